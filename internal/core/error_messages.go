// error_messages.go: Error Codes Reference
//
// This file defines user-facing error messages with codes for support
// reference. Codes are grouped by category:
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Store unreachable: the database could not be reached
//	        Action: Check POSTGRES_HOST/POSTGRES_PORT or DATABASE_URL
//	        Matches: store.ConnectivityError, "connection refused"
//
//	DB002 - Authentication failed: the database refused the credentials
//	        Action: Check POSTGRES_USER and POSTGRES_PASSWORD
//	        Matches: "password authentication failed"
//
//	DB003 - Table exists: fail mode found an existing table
//	        Action: Use --mode append or --mode replace
//	        Matches: store.ErrTableExists
//
//	DB004 - Schema error: the table could not be created or does not match
//	        Action: Check the table definition and the target SRID
//	        Matches: store.SchemaError
//
//	DB005 - PostGIS missing: the geometry type is unknown to the database
//	        Action: Run CREATE EXTENSION postgis
//	        Matches: `type "geometry" does not exist`
//
//	DB006 - No commune field: the table has none of the commune columns
//	        Action: Pass --field with an existing column
//	        Matches: store.ErrNoCommuneField
//
// # Geometry Errors (GEO001-GEO099)
//
//	GEO001 - Reprojection failed
//	         Action: Check that the source SRID is a valid EPSG code
//	         Matches: "reproject", "transformation"
//
//	GEO002 - Unknown coordinate reference system
//	         Action: Declare an EPSG code in the source file
//	         Matches: "crs"
//
//	GEO003 - Undecodable geometry
//	         Action: Re-export the file from the source application
//	         Matches: "decode geometry", "geos"
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Unsupported format        Matches: source.ErrUnsupportedFormat
//	SRC002 - Shapefile incomplete      Matches: source.ErrMissingComponent
//	SRC003 - File not found            Matches: fs.ErrNotExist
//	SRC004 - Invalid GeoJSON           Matches: "decode geojson"
//	SRC005 - FlatGeobuf without index  Matches: source.ErrNoSpatialIndex
//	SRC006 - GeoPackage layer missing  Matches: source.ErrLayerNotFound
//	SRC007 - Body too large            Matches: "request body too large"
//
// # Load Errors (LOAD001-LOAD099)
//
//	LOAD001 - Busy: another load holds the only slot    Matches: ErrTooManyLoads
//	LOAD002 - Cancelled                                 Matches: context.Canceled
//	LOAD003 - Timed out                                 Matches: context.DeadlineExceeded
//	LOAD004 - Empty source                              Matches: ErrNoFeatures
//	LOAD005 - Invalid mode                              Matches: "unknown write mode"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check the logs for the load id
//
// # Matching
//
// Typed errors are matched first with errors.Is and errors.As. Then
// patterns are matched case-insensitively with strings.Contains; the first
// match wins, so more specific patterns come before general ones.

package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/JonMunkholm/geoload/internal/source"
	"github.com/JonMunkholm/geoload/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorKind struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func as[T error]() func(error) bool {
	return func(err error) bool {
		var t T
		return errors.As(err, &t)
	}
}

var (
	msgAuth        = UserMessage{"The database refused the credentials", "Check POSTGRES_USER and POSTGRES_PASSWORD", "DB002"}
	msgUnreachable = UserMessage{"Unable to reach the database", "Check POSTGRES_HOST/POSTGRES_PORT or DATABASE_URL", "DB001"}
)

// SQLSTATE class 28 is invalid authorization.
func isAuthFailure(err error) bool {
	return strings.HasPrefix(store.SQLState(err), "28")
}

// errorKinds is checked before errorPatterns. Connectivity comes before the
// context entries since a dial timeout also wraps DeadlineExceeded.
var errorKinds = []errorKind{
	{is(ErrTooManyLoads), UserMessage{"Another load is in progress", "Wait for it to finish and try again", "LOAD001"}},
	{is(store.ErrTableExists), UserMessage{"The target table already exists", "Use --mode append or --mode replace", "DB003"}},
	{as[*store.SchemaError](), UserMessage{"The target table could not be created or does not match", "Check the table definition and the target SRID", "DB004"}},
	{is(store.ErrNoCommuneField), UserMessage{"The table has no commune column", "Pass --field with an existing column", "DB006"}},
	{is(source.ErrUnsupportedFormat), UserMessage{"This file format is not supported", "Use a Shapefile, GeoJSON, FlatGeobuf or GeoPackage file", "SRC001"}},
	{is(source.ErrMissingComponent), UserMessage{"The shapefile is incomplete", "Provide the .shp, .shx and .dbf files together", "SRC002"}},
	{is(source.ErrNoSpatialIndex), UserMessage{"The FlatGeobuf file has no spatial index", "Re-export it with a spatial index", "SRC005"}},
	{is(source.ErrLayerNotFound), UserMessage{"The GeoPackage layer was not found", "Check the layer name", "SRC006"}},
	{is(ErrNoFeatures), UserMessage{"The source contains no features", "Check that the file is not empty", "LOAD004"}},
	{is(fs.ErrNotExist), UserMessage{"The file was not found", "Check the path", "SRC003"}},
	{isAuthFailure, msgAuth},
	{store.IsConnectivity, msgUnreachable},
	{is(context.Canceled), UserMessage{"The load was cancelled", "Start it again when ready", "LOAD002"}},
	{is(context.DeadlineExceeded), UserMessage{"The load timed out", "Raise LOAD_TIMEOUT or load a smaller file", "LOAD003"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. Authentication comes before the generic unreachable match
// because pgx reports both through the same connect error text.
var errorPatterns = []errorPattern{
	// Store
	{"password authentication failed", msgAuth},
	{"store unreachable", msgUnreachable},
	{"connection refused", msgUnreachable},
	{`type "geometry" does not exist`, UserMessage{"PostGIS is not installed in this database", "Run CREATE EXTENSION postgis", "DB005"}},

	// Geometry
	{"reproject", UserMessage{"Coordinates could not be reprojected", "Check that the source SRID is a valid EPSG code", "GEO001"}},
	{"transformation", UserMessage{"Coordinates could not be reprojected", "Check that the source SRID is a valid EPSG code", "GEO001"}},
	{"crs", UserMessage{"The coordinate reference system is not recognized", "Declare an EPSG code in the source file", "GEO002"}},
	{"decode geometry", UserMessage{"A geometry could not be decoded", "Re-export the file from the source application", "GEO003"}},
	{"geos", UserMessage{"A geometry could not be processed", "Re-export the file from the source application", "GEO003"}},

	// Source
	{"decode geojson", UserMessage{"The file is not valid GeoJSON", "Validate the file with a GeoJSON linter", "SRC004"}},
	{"request body too large", UserMessage{"The uploaded document is too large", "Load the file from the command line instead", "SRC007"}},

	// Load
	{"unknown write mode", UserMessage{"Unknown write mode", "Use append, replace or fail", "LOAD005"}},
}

// defaultMessage is returned when nothing matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for this load id",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Typed
// errors win over text patterns; ERR000 is the fallback.
//
// Example:
//
//	msg := MapError(fmt.Errorf("write: %w", store.ErrTableExists))
//	// msg.Code == "DB003"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if k.match(err) {
			return k.msg
		}
	}
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, strings.ToLower(ep.pattern)) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its
// user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

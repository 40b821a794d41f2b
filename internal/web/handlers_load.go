package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/geoload/internal/core"
	"github.com/JonMunkholm/geoload/internal/source"
	"github.com/JonMunkholm/geoload/internal/store"
)

// handleLoad loads a GeoJSON FeatureCollection posted as the request body.
//
// Query parameters override the configured load defaults:
//
//	table          target table, optionally schema-qualified
//	schema         target schema when table is not qualified
//	mode           append, replace or fail
//	srid           target SRID
//	commune_field  name of the standardized commune column
//	detect_commune true or false
//
// The response is the LoadReport. Failed loads carry the user message and
// an HTTP status derived from its code.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	opts, err := s.loadOptions(r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Load.MaxBodySize)
	c, err := source.ReadGeoJSON(r.Context(), r.Body)
	if err != nil {
		respondError(w, r, fmt.Errorf("read request body: %w", err), 0)
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		c.Name = name
	} else if c.Name == "" {
		c.Name = "request"
	}

	rep := s.loader.Load(withLoadMetadata(r.Context(), r), c, opts)
	if rep.Success {
		writeJSON(w, http.StatusCreated, rep)
		return
	}

	status := http.StatusInternalServerError
	if rep.User != nil {
		status = statusFor(rep.User.Code)
	}
	writeJSON(w, status, rep)
}

// loadOptions starts from the configured defaults and applies the query.
func (s *Server) loadOptions(r *http.Request) (core.Options, error) {
	opts, err := core.OptionsFromConfig(s.cfg.Load)
	if err != nil {
		return core.Options{}, err
	}
	q := r.URL.Query()

	if v := q.Get("table"); v != "" || q.Get("schema") != "" {
		if v == "" {
			v = s.cfg.Load.Table
		}
		opts.Table = s.tableIdentity(v, q.Get("schema"))
	}
	if v := q.Get("mode"); v != "" {
		mode, err := store.ParseMode(v)
		if err != nil {
			return core.Options{}, err
		}
		opts.Mode = mode
	}
	if v := q.Get("srid"); v != "" {
		srid, err := strconv.Atoi(v)
		if err != nil || srid <= 0 {
			return core.Options{}, fmt.Errorf("invalid srid %q", v)
		}
		opts.SRID = srid
	}
	if v := q.Get("commune_field"); v != "" {
		opts.CommuneField = v
	}
	if v := q.Get("detect_commune"); v != "" {
		detect, err := strconv.ParseBool(v)
		if err != nil {
			return core.Options{}, fmt.Errorf("invalid detect_commune %q", v)
		}
		opts.DetectCommune = detect
	}
	return opts, nil
}

// tableIdentity resolves name against schema, falling back to the
// configured schema when name is not qualified.
func (s *Server) tableIdentity(name, schema string) store.TableIdentity {
	if strings.Contains(name, ".") {
		return store.ParseIdentity(name)
	}
	if schema == "" {
		schema = s.cfg.Load.Schema
	}
	return store.TableIdentity{Schema: schema, Table: name}
}

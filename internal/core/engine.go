package core

import (
	"fmt"

	"github.com/JonMunkholm/geoload/internal/geometry"
	"github.com/JonMunkholm/geoload/internal/store"
)

// Engine names accepted by NewEngine.
const (
	EngineGEOS    = "geos"
	EnginePostGIS = "postgis"
)

// NewEngine returns the geometry engine called name and a func releasing
// it. The postgis engine runs its operations over st.
func NewEngine(name string, st *store.Store) (geometry.Engine, func(), error) {
	switch name {
	case "", EngineGEOS:
		e := geometry.NewNativeEngine()
		return e, e.Close, nil
	case EnginePostGIS:
		if st == nil {
			return nil, nil, fmt.Errorf("engine %q needs a store", name)
		}
		return st.Engine(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown geometry engine %q (want %s or %s)", name, EngineGEOS, EnginePostGIS)
	}
}

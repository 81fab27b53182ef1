package filter

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/wmts2mbtiles-go/internal/tile"
)

// Runtime manages the Lua interpreter for tile filter scripts.
//
// A filter script defines a global keep_tile function that receives one
// tile table and returns a truthy value to keep the tile:
//
//	function keep_tile(t)
//	    return t.max_lat > 47.0 and t.zoom >= 10
//	end
//
// The tile table carries zoom, col, row and the geographic extent of the
// tile as min_lat, max_lat, min_lon, max_lon.
type Runtime struct {
	L        *lua.LState
	keepTile lua.LValue
}

// NewRuntime creates a new Lua runtime for filter scripts.
func NewRuntime() *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	r := &Runtime{L: L}
	r.registerAPI()
	return r
}

// Close releases Lua resources.
func (r *Runtime) Close() {
	r.L.Close()
}

func (r *Runtime) registerAPI() {
	mod := r.L.NewTable()
	mod.RawSetString("version", lua.LString("1.0.0"))
	r.L.SetGlobal("wmts2mbtiles", mod)

	r.L.SetGlobal("print", r.L.NewFunction(r.luaPrint))
}

// LoadFile loads and executes a Lua filter script.
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load filter script: %w", err)
	}
	return r.extractCallback()
}

// LoadString loads and executes Lua code from a string (for testing).
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load filter script: %w", err)
	}
	return r.extractCallback()
}

func (r *Runtime) extractCallback() error {
	fn := r.L.GetGlobal("keep_tile")
	if fn.Type() != lua.LTFunction {
		return fmt.Errorf("filter script must define a keep_tile function")
	}
	r.keepTile = fn
	return nil
}

// KeepTile invokes the script's keep_tile callback for one tile.
func (r *Runtime) KeepTile(t tile.Tile) (bool, error) {
	if err := r.L.CallByParam(lua.P{
		Fn:      r.keepTile,
		NRet:    1,
		Protect: true,
	}, r.tileToLua(t)); err != nil {
		return false, fmt.Errorf("lua callback error: %w", err)
	}

	ret := r.L.Get(-1)
	r.L.Pop(1)
	return lua.LVAsBool(ret), nil
}

// tileToLua converts a tile to the table passed to keep_tile.
func (r *Runtime) tileToLua(t tile.Tile) *lua.LTable {
	nw := tile.TileToPoint(t.Col, t.Row, t.Z)
	se := tile.TileToPoint(t.Col+1, t.Row+1, t.Z)

	tbl := r.L.NewTable()
	tbl.RawSetString("zoom", lua.LNumber(t.Z))
	tbl.RawSetString("col", lua.LNumber(t.Col))
	tbl.RawSetString("row", lua.LNumber(t.Row))
	tbl.RawSetString("min_lat", lua.LNumber(se.Lat))
	tbl.RawSetString("max_lat", lua.LNumber(nw.Lat))
	tbl.RawSetString("min_lon", lua.LNumber(nw.Lon))
	tbl.RawSetString("max_lon", lua.LNumber(se.Lon))
	return tbl
}

func (r *Runtime) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	var parts []string
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	fmt.Println(strings.Join(parts, "\t"))
	return 0
}

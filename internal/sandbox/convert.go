package sandbox

import (
	"math"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a JSON tree into Lua values. Arrays become tables
// with 1..n integer keys, objects become string-keyed tables.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, elem := range val {
			tbl.RawSetInt(i+1, toLua(L, elem))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, elem := range val {
			tbl.RawSetString(k, toLua(L, elem))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// fromLua converts a Lua value back to a JSON tree. A table whose
// keys are exactly 1..n becomes an array; any other table becomes an
// object with stringified keys. Non-finite numbers and unsupported
// types (functions, userdata) become nil.
func fromLua(lv lua.LValue) any {
	switch val := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToJSON(val)
	default:
		return nil
	}
}

func tableToJSON(tbl *lua.LTable) any {
	count := 0
	maxIndex := 0
	isArray := true
	tbl.ForEach(func(key, _ lua.LValue) {
		count++
		if num, ok := key.(lua.LNumber); ok {
			idx := int(num)
			if float64(idx) == float64(num) && idx >= 1 {
				if idx > maxIndex {
					maxIndex = idx
				}
				return
			}
		}
		isArray = false
	})

	if isArray && count > 0 && count == maxIndex {
		arr := make([]any, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			arr[i-1] = fromLua(tbl.RawGetInt(i))
		}
		return arr
	}

	obj := make(map[string]any, count)
	tbl.ForEach(func(key, value lua.LValue) {
		var k string
		switch kv := key.(type) {
		case lua.LString:
			k = string(kv)
		case lua.LNumber:
			k = kv.String()
		default:
			return
		}
		obj[k] = fromLua(value)
	})
	return obj
}

// Package wire defines the inter-node value model and the binding
// mini-language used by input pins.
//
// Values are plain JSON-compatible trees (nil, bool, float64, string,
// []any, map[string]any), exactly as produced by encoding/json. Every
// node emits an array of values; single-output nodes emit a length-1
// array, and downstream path expressions operate on elements.
//
// A binding is one of:
//
//   - a path expression ($json.a.b, $json[2].score) into the incoming
//     value array
//   - a secret reference ($secret.name)
//   - a single-line script expression, evaluated by the sandbox
//   - a literal (everything else; JSON-parsed when possible)
//
// Bindings are side-effect free: evaluation reads the environment and
// produces a value, nothing else.
package wire

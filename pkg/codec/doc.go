// Package codec holds field codecs for values that APIs encode in unusual
// ways. They plug into encoding/json and the endpoint decoder through the
// standard marshaler interfaces, so a field only needs the right type:
//
//	type Item struct {
//		ID   codec.Base62                 `json:"id"`
//		Meta codec.JSONString[Attributes] `json:"meta"`
//	}
package codec

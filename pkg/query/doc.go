// Package query converts structured request parameters into URL query
// strings and back.
//
// Every encoder in this package follows one convention:
//
//	scalar value     name=value
//	sequence         name[]=a&name[]=b
//	nested object    name[key]=value, recursively (name[a][b]=value)
//
// Keys are sorted byte-wise at every nesting level, so a given parameter set
// always produces the same string. Brackets are written literally; keys and
// values are otherwise escaped with url.QueryEscape. Keys must not contain
// brackets themselves, and sequences may only hold scalar values.
//
// Example usage:
//
//	q, err := query.Encode(query.Params{
//		"q":      "is:open",
//		"labels": []string{"bug", "ui"},
//		"filter": query.Params{"state": "open"},
//	})
//	// filter[state]=open&labels[]=bug&labels[]=ui&q=is%3Aopen
//
// Structs can be passed to Marshal; their fields are flattened with
// go-querystring (`url:"name,omitempty"` tags) before being canonicalised.
package query

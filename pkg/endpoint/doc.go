// Package endpoint defines the request/response contract for a single API
// operation and the error taxonomy shared by the whole toolkit.
//
// A round trip has three steps:
//
//	wire, err := ep.BuildRequest(endpoint.Get("/repos/{owner}/{repo}/issues").
//		WithParam("owner", "golang").
//		WithParam("repo", "go").
//		WithQuery(query.Params{"state": "open"}))
//	raw, err := transport.RoundTrip(ctx, wire)
//	resp, err := ep.DecodeResponse(wire, raw)
//
// or simply endpoint.Do(ctx, transport, ep, req).
//
// Every failure is an *Error of one Kind:
//
//   - KindTransport: the transport failed, or a non-success status could
//     not be decoded as a business error (StatusCode and Body are kept)
//   - KindURL: the request URL could not be composed
//   - KindQuery: a parameter could not be encoded (Param names it)
//   - KindDecode: the success body did not match T (Path locates it)
//   - KindBusiness: the endpoint's BusinessDecoder produced a Payload
//
// Callers branch with a switch on Kind, errors.Is(err, endpoint.ErrDecode),
// or BusinessPayload.
package endpoint

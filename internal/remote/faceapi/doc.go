// Package faceapi is the client of the remote face recognition service.
//
// The wire contract is fixed: the encoded image is POSTed as
// application/octet-stream to {faceApiUrl}?deviceid={id} and the response
// body is a JSON array of face records.
package faceapi

// Package protocol defines the push wire format and the JSON views shared by
// the request and push transports.
//
// Every frame is {"event": "<name>", "data": <payload>}. Decode turns a
// client frame into one of the fixed Command variants and rejects anything
// whose payload does not match; the gateway ignores rejected frames.
package protocol

// Package leshan provides a client for the Leshan LwM2M server's REST and
// server-sent-event interface.
//
// This package manages:
//   - HTTP request execution with a per-call timeout and typed errors
//   - Decoding and encoding of LwM2M resource values
//   - The directory of registered devices (endpoints)
//   - Resource observations, multiplexed onto one event stream per endpoint
//   - The server-wide registration event stream
//
// # Architecture
//
// Leshan translates CoAP/DTLS traffic from devices into a JSON REST API and
// pushes observe notifications over SSE. This package only ever talks to
// that façade:
//
//	Gray Logic ↔ HTTP/SSE ↔ Leshan server ↔ CoAP ↔ LwM2M devices
//
// Every endpoint with at least one observed resource gets exactly one
// StreamListener. The Registry owns those listeners: the first Observe on
// an endpoint starts its stream and the last Cancel stops it.
//
// # Error Handling
//
// Request failures surface as errors matching ErrConnection,
// ErrConnectionTimeout or *ServerError. Stream failures never surface:
// listeners log them and reconnect, immediately after a timeout and after
// a fixed backoff otherwise.
//
// # Usage
//
//	client := leshan.NewClient(leshan.ClientOptions{
//	    BaseURL: cfg.Leshan.Host,
//	    Timeout: 10 * time.Second,
//	    Logger:  log,
//	})
//	defer client.Close()
//
//	devices, err := client.RefreshDevices(ctx)
//	if err != nil {
//	    return err
//	}
//
//	light := leshan.ObjectInstance{ObjectID: 3311, InstanceID: 0}
//	client.Observe(ctx, devices[0], light, 5850,
//	    func(d leshan.Device, oi leshan.ObjectInstance, v leshan.ResourceValue) {
//	        log.Info("light switched", "endpoint", d.Endpoint, "on", v.Value)
//	    })
package leshan

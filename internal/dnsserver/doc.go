/*
Package dnsserver implements the server side of the DNS protocols that
AmberDNS speaks:

  - Plain DNS (UDP and TCP)
  - DNS-over-TLS
  - DNS-over-HTTPS (including the JSON API)

The dnsserver package is responsible for accepting the DNS queries and writing
the response to the client and properly normalizing it.  It does not contain
any recursor or forwarding functionality, it needs to be implemented elsewhere.

All servers implement the [Server] interface which provides basic
functionality.

# Handlers

You need to pass a [Handler] to the server constructor.  Here is an example of
a simple handler function that forwards queries to a public resolver:

	handler := dnsserver.HandlerFunc(
		func(ctx context.Context, rw dnsserver.ResponseWriter, req *dns.Msg) error {
			res, err := dns.Exchange(req, "1.1.1.1:53")
			if err != nil {
				// The server writes a SERVFAIL response if a handler returns an
				// error.
				return err
			}

			return rw.WriteMsg(ctx, req, res)
		},
	)

Alternatively, use [forward.NewHandler] to create a DNS forwarding handler.

# Middlewares

The [Middleware] interface is used to build processing chains around handlers,
see [WithMiddlewares].

# Metrics

Servers report their state to a [MetricsListener].  Package prometheus
provides an implementation that increments Prometheus counters.
*/
package dnsserver

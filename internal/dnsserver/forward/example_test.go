package forward_test

import (
	"context"
	"fmt"
	"time"

	"github.com/amberdns/amberdns/internal/dnsserver"
	"github.com/amberdns/amberdns/internal/dnsserver/forward"
)

func ExampleNewHandler() {
	ups, err := forward.ParseUpstreamList("8.8.8.8, tls://1.1.1.1", 5*time.Second)
	if err != nil {
		panic("failed to parse upstreams")
	}

	conf := &dnsserver.ConfigDNS{
		Base: &dnsserver.ConfigBase{
			Name: "srv",
			Addr: "127.0.0.1:0",
			Handler: forward.NewHandler(&forward.HandlerConfig{
				Upstreams: ups,
			}),
		},
	}

	srv := dnsserver.NewServerDNS(conf)
	err = srv.Start(context.Background())
	if err != nil {
		panic("failed to start the server")
	}

	fmt.Println("started server")

	defer func() {
		err = srv.Shutdown(context.Background())
		if err != nil {
			panic("failed to shutdown the server")
		}

		fmt.Println("stopped server")
	}()

	// Output:
	//
	// started server
	// stopped server
}

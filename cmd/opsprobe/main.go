// opsprobe is a single-shot health probe for container healthchecks:
// it hits a running agent's ops endpoint and exits 0 when the agent
// answers ready, 1 otherwise.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:7181", "agent ops listener base URL")
	path := flag.String("path", "/readyz", "probe path")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	flag.Parse()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(*addr + *path)
	req.Header.SetMethod(fasthttp.MethodGet)

	c := &fasthttp.Client{Name: "autosync-opsprobe"}
	if err := c.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "probe unhealthy: %d %s\n", resp.StatusCode(), resp.Body())
		os.Exit(1)
	}
	fmt.Printf("%s\n", resp.Body())
}

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

type scenario struct {
	name        string
	method      string
	path        string
	body        string
	contentType string
	wantStatus  int
	wantBody    string
	wantDrop    bool
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Address of a running mockhttp server")
	timeout := flag.Duration("timeout", 30*time.Second, "Per request timeout")
	flag.Parse()

	client := &fasthttp.Client{
		Name:                          "mockhttp-smoke",
		ReadTimeout:                   *timeout,
		WriteTimeout:                  *timeout,
		DisablePathNormalizing:        true,
		NoDefaultUserAgentHeader:      true,
		DisableHeaderNamesNormalizing: true,
	}

	scenarios := []scenario{
		{name: "slow without delay", method: "GET", path: "/slow", wantStatus: 200, wantBody: "The delay is set to : 0\r\n"},
		{name: "slow with delay", method: "GET", path: "/slow?delay=2", wantStatus: 200, wantBody: "The delay is set to : 2\r\n"},
		{name: "slow with random delay", method: "GET", path: "/slow?randomdelay=3", wantStatus: 200, wantBody: ""},
		{name: "echo", method: "POST", path: "/echo", body: `{"ping":true}`, contentType: "application/json", wantStatus: 200, wantBody: `{"ping":true}`},
		{name: "not found", method: "GET", path: "/nowhere", wantStatus: 404, wantBody: "The server couldn't locate the requested resource\r\n"},
		{name: "conclose", method: "GET", path: "/conclose?delay=1", wantDrop: true},
		{name: "invalid delay", method: "GET", path: "/slow?delay=abc", wantDrop: true},
	}

	failed := 0
	for _, s := range scenarios {
		start := time.Now()
		err := run(client, *addr, s)
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			failed++
			fmt.Printf("FAIL %-24s %8s  %v\n", s.name, elapsed, err)
			continue
		}
		fmt.Printf("ok   %-24s %8s\n", s.name, elapsed)
	}

	if failed > 0 {
		fmt.Printf("%d of %d scenarios failed\n", failed, len(scenarios))
		os.Exit(1)
	}
}

func run(client *fasthttp.Client, addr string, s scenario) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://" + addr + s.path)
	req.Header.SetMethod(s.method)
	if s.body != "" {
		req.SetBodyString(s.body)
	}
	if s.contentType != "" {
		req.Header.SetContentType(s.contentType)
	}

	err := client.Do(req, resp)
	if s.wantDrop {
		if err == nil {
			return fmt.Errorf("expected the connection to be dropped, got status %d", resp.StatusCode())
		}
		return nil
	}
	if err != nil {
		return err
	}

	if resp.StatusCode() != s.wantStatus {
		return fmt.Errorf("status %d, want %d", resp.StatusCode(), s.wantStatus)
	}
	if got := string(resp.Body()); got != s.wantBody {
		return fmt.Errorf("body %q, want %q", got, s.wantBody)
	}
	if s.contentType != "" {
		if got := string(resp.Header.ContentType()); got != s.contentType {
			return fmt.Errorf("content type %q, want %q", got, s.contentType)
		}
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/control"
)

// =============================================================================
// DAEMON CLIENTS
// =============================================================================

// adminHTTP talks to the running daemon's admin surface.
var adminHTTP = &http.Client{Timeout: 5 * time.Second}

// normalizeAddr fills in localhost for listen addresses like ":9091".
func normalizeAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func adminBaseURL() string {
	return "http://" + normalizeAddr(cfg.MetricsAddr)
}

// adminGet fetches an admin endpoint and decodes the JSON response into dst.
func adminGet(path string, dst any) (int, error) {
	resp, err := adminHTTP.Get(adminBaseURL() + path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeAdminBody(resp, dst)
}

// adminPost sends a JSON body to an admin endpoint. A non-2xx status is
// returned alongside the decoded error payload.
func adminPost(path string, body, dst any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	resp, err := adminHTTP.Post(adminBaseURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeAdminBody(resp, dst)
}

func decodeAdminBody(resp *http.Response, dst any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error != "" {
			return fmt.Errorf("%s", failure.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// probeDaemonHealth checks the gRPC health surface and maps the verdict to
// a short status word.
func probeDaemonHealth(ctx context.Context) string {
	conn, err := grpc.NewClient(normalizeAddr(cfg.ControlAddr),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "unreachable"
	}
	defer conn.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{
		Service: control.HealthService,
	})
	if err != nil {
		return "unreachable"
	}
	switch resp.Status {
	case healthpb.HealthCheckResponse_SERVING:
		return "serving"
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return "not_serving"
	default:
		return strings.ToLower(resp.Status.String())
	}
}

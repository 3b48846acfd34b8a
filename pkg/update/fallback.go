package update

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kaspa-aio/controller/pkg/errdefs"
	"github.com/kaspa-aio/controller/pkg/log"
)

// Env keys owned by the node profiles; dependent services read the node
// endpoint from these.
const (
	envNodeHost = "KASPA_NODE_HOST"
	envNodePort = "KASPA_NODE_PORT"
)

// NodeFallback switches the fleet between the local node endpoint and a
// configured public endpoint. Both directions go through the reconfigure
// pipeline, so services reading the endpoint keys restart with the new
// values.
type NodeFallback struct {
	pipeline  *Pipeline
	localHost string
	localPort int
	publicURL string
	logger    zerolog.Logger
}

// NewNodeFallback creates a fallback over the pipeline. An empty publicURL
// leaves the fallback unconfigured; Engage and Restore then refuse to run.
func NewNodeFallback(pipeline *Pipeline, localHost string, localPort int, publicURL string) *NodeFallback {
	return &NodeFallback{
		pipeline:  pipeline,
		localHost: localHost,
		localPort: localPort,
		publicURL: publicURL,
		logger:    log.WithComponent("fallback"),
	}
}

// Configured reports whether a public endpoint is available to fall back to.
func (f *NodeFallback) Configured() bool {
	return f != nil && f.publicURL != ""
}

// Engage points dependent services at the public endpoint.
func (f *NodeFallback) Engage(ctx context.Context) error {
	if !f.Configured() {
		return errdefs.New(errdefs.KindValidation, "no public node endpoint configured")
	}
	host, port, err := parseEndpoint(f.publicURL, f.localPort)
	if err != nil {
		return err
	}
	f.logger.Info().Str("host", host).Int("port", port).Msg("switching services to public node endpoint")
	return f.rewrite(ctx, host, port)
}

// Restore points dependent services back at the local node. Safe to call when
// the fallback was never engaged; an unchanged environment restarts nothing.
func (f *NodeFallback) Restore(ctx context.Context) error {
	if !f.Configured() {
		return errdefs.New(errdefs.KindValidation, "no public node endpoint configured")
	}
	f.logger.Info().Str("host", f.localHost).Int("port", f.localPort).Msg("switching services back to local node")
	return f.rewrite(ctx, f.localHost, f.localPort)
}

func (f *NodeFallback) rewrite(ctx context.Context, host string, port int) error {
	_, err := f.pipeline.Reconfigure(ctx, ReconfigureRequest{
		EnvChanges: map[string]string{
			envNodeHost: host,
			envNodePort: strconv.Itoa(port),
		},
	})
	return err
}

// parseEndpoint accepts "host", "host:port" and "scheme://host[:port]" forms.
func parseEndpoint(raw string, defaultPort int) (string, int, error) {
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return "", 0, errdefs.New(errdefs.KindValidation, "malformed node endpoint %q", raw)
		}
		port := defaultPort
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return "", 0, errdefs.New(errdefs.KindValidation, "malformed node endpoint %q", raw)
			}
		}
		return u.Hostname(), port, nil
	}

	if host, p, err := net.SplitHostPort(raw); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || host == "" {
			return "", 0, errdefs.New(errdefs.KindValidation, "malformed node endpoint %q", raw)
		}
		return host, port, nil
	}

	if raw == "" {
		return "", 0, errdefs.New(errdefs.KindValidation, "empty node endpoint")
	}
	return raw, defaultPort, nil
}

package amqp

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/israelio/amqp10-go-client/internal/config"
	"github.com/israelio/amqp10-go-client/internal/observability"
)

// Options bundles the connection, session and link options built from a
// configuration file
type Options struct {
	Conn    []ConnOption
	Session []SessionOption
	Link    []LinkOption
	Logger  *zap.Logger
	Metrics MetricsCollector
}

// LoadOptions reads a configuration file (TOML or YAML) plus AMQP10_*
// environment overrides and converts it into options. An empty path
// searches the default locations.
func LoadOptions(path string) (*Options, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return OptionsFromConfig(cfg)
}

// OptionsFromConfig converts a loaded configuration into options. The
// returned Conn options carry the URI's address and credentials, so they
// can be passed to NewConnectionFactory directly.
func OptionsFromConfig(cfg *config.Config) (*Options, error) {
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}

	metrics, err := metricsCollector(cfg.Metrics.Kind)
	if err != nil {
		return nil, err
	}

	o := &Options{Logger: logger, Metrics: metrics}

	cc := cfg.Connection
	o.Conn = append(o.Conn,
		WithLogger(logger),
		WithMetrics(metrics),
		WithHostname(cc.Hostname),
		WithMaxFrameSize(cc.MaxFrameSize),
		WithChannelMax(cc.ChannelMax),
		WithIdleTimeout(cc.IdleTimeout),
		WithSASLMechanism(strings.ToUpper(cc.SASLMechanism)),
	)
	if cc.ContainerID != "" {
		o.Conn = append(o.Conn, WithContainerID(cc.ContainerID))
	}
	if cc.ConnectionTimeout > 0 {
		o.Conn = append(o.Conn, WithConnectionTimeout(cc.ConnectionTimeout))
	}

	// URI settings win over the connection section
	if cfg.URI != "" {
		uf, err := ParseURI(cfg.URI)
		if err != nil {
			return nil, err
		}
		o.Conn = append(o.Conn, fromURI(uf))
	}
	if cc.TLSServerName != "" || cc.TLSSkipVerify {
		o.Conn = append(o.Conn, func(cf *ConnectionFactory) {
			t := cf.tlsConfig().Clone()
			if cc.TLSServerName != "" {
				t.ServerName = cc.TLSServerName
			}
			t.InsecureSkipVerify = cc.TLSSkipVerify
			cf.TLS = t
		})
	}

	sc := cfg.Session
	o.Session = []SessionOption{
		WithIncomingWindow(sc.IncomingWindow),
		WithOutgoingWindow(sc.OutgoingWindow),
		WithHandleMax(sc.HandleMax),
	}

	lc := cfg.Link
	ssm, err := parseSenderSettleMode(lc.SenderSettleMode)
	if err != nil {
		return nil, err
	}
	rsm, err := parseReceiverSettleMode(lc.ReceiverSettleMode)
	if err != nil {
		return nil, err
	}
	o.Link = []LinkOption{
		WithSenderSettleMode(ssm),
		WithReceiverSettleMode(rsm),
		WithMaxMessageSize(lc.MaxMessageSize),
	}
	if lc.Credit > 0 {
		o.Link = append(o.Link, WithCapacity(lc.Credit))
	}
	if lc.MaxInFlight > 0 {
		o.Link = append(o.Link, WithMaxInFlight(lc.MaxInFlight))
	}

	o.Conn = append(o.Conn, WithSessionDefaults(o.Session...), WithLinkDefaults(o.Link...))
	return o, nil
}

// fromURI copies the address, credentials and TLS settings parsed from a URI
func fromURI(uf *ConnectionFactory) ConnOption {
	return func(cf *ConnectionFactory) {
		cf.Scheme = uf.Scheme
		cf.Host = uf.Host
		cf.Port = uf.Port
		cf.Username = uf.Username
		cf.Password = uf.Password
		if uf.Hostname != "" {
			cf.Hostname = uf.Hostname
		}
		if uf.TLS != nil {
			cf.TLS = uf.TLS.Clone()
		}
		switch {
		case uf.SASLMechanism != "":
			cf.SASLMechanism = uf.SASLMechanism
		case uf.Username != "":
			cf.SASLMechanism = SASLPlain
		}
	}
}

func metricsCollector(kind string) (MetricsCollector, error) {
	switch strings.ToLower(kind) {
	case "", "none":
		return NewNoOpMetricsCollector(), nil
	case "standard":
		return NewStandardMetricsCollector(), nil
	case "prometheus":
		return NewPrometheusMetricsCollector(), nil
	default:
		return nil, fmt.Errorf("unknown metrics kind %q", kind)
	}
}

func parseSenderSettleMode(s string) (SenderSettleMode, error) {
	switch strings.ToLower(s) {
	case "", "mixed":
		return SenderSettleModeMixed, nil
	case "settled":
		return SenderSettleModeSettled, nil
	case "unsettled":
		return SenderSettleModeUnsettled, nil
	default:
		return 0, fmt.Errorf("unknown sender settle mode %q", s)
	}
}

func parseReceiverSettleMode(s string) (ReceiverSettleMode, error) {
	switch strings.ToLower(s) {
	case "", "first":
		return ReceiverSettleModeFirst, nil
	case "second":
		return ReceiverSettleModeSecond, nil
	default:
		return 0, fmt.Errorf("unknown receiver settle mode %q", s)
	}
}

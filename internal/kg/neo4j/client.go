package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/scope3-agent/backend/internal/metrics"
	"github.com/scope3-agent/backend/pkg/circuitbreaker"
	"github.com/scope3-agent/backend/pkg/logger"
	"github.com/scope3-agent/backend/pkg/retry"
)

type Config struct {
	URI          string
	Username     string
	Password     string
	Database     string
	QueryTimeout time.Duration
}

// Client is the graph datastore. It implements agent.Datastore and serves the
// history store through Read and Write.
type Client struct {
	driver       neo4j.DriverWithContext
	database     string
	queryTimeout time.Duration
	cb           *circuitbreaker.CircuitBreaker
	retryConfig  retry.Config
}

func NewClient(cfg Config) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 20 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsSuccessful: func(err error) bool {
			return err == nil || IsClientError(err)
		},
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))

	return &Client{
		driver:       driver,
		database:     cfg.Database,
		queryTimeout: cfg.QueryTimeout,
		cb:           cb,
		retryConfig:  retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Query runs a read-only statement. Server errors keep their message so the
// evaluator can act on it.
func (c *Client) Query(ctx context.Context, cypher string) ([]agent.Record, error) {
	rows, err := c.Read(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	return rows, nil
}

func (c *Client) Read(ctx context.Context, cypher string, params map[string]any) ([]agent.Record, error) {
	return c.run(ctx, neo4j.AccessModeRead, cypher, params)
}

func (c *Client) Write(ctx context.Context, cypher string, params map[string]any) ([]agent.Record, error) {
	return c.run(ctx, neo4j.AccessModeWrite, cypher, params)
}

func (c *Client) run(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any) ([]agent.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	var rows []agent.Record

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   mode,
			})
			defer session.Close(ctx)

			work := func(tx neo4j.ManagedTransaction) (any, error) {
				result, err := tx.Run(ctx, cypher, params)
				if err != nil {
					return nil, err
				}
				records, err := result.Collect(ctx)
				if err != nil {
					return nil, err
				}
				return convertRecords(records), nil
			}

			var (
				out any
				err error
			)
			if mode == neo4j.AccessModeWrite {
				out, err = session.ExecuteWrite(ctx, work)
			} else {
				out, err = session.ExecuteRead(ctx, work)
			}
			if err != nil {
				if IsClientError(err) {
					return retry.Permanent(err)
				}
				return err
			}

			rows = out.([]agent.Record)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	logger.Debug("Cypher executed", zap.Int("rows", len(rows)), zap.String("mode", accessModeName(mode)))
	return rows, nil
}

// IsClientError reports a statement the server rejected: bad syntax, unknown
// procedure, missing index. Retrying it cannot help.
func IsClientError(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return strings.HasPrefix(neoErr.Code, "Neo.ClientError.")
	}
	return false
}

func accessModeName(mode neo4j.AccessMode) string {
	if mode == neo4j.AccessModeWrite {
		return "write"
	}
	return "read"
}

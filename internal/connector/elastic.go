package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowprobe/flowprobe/internal/model"
)

// elasticDriver issues raw Elasticsearch HTTP requests. The query
// format is "METHOD /path [body]"; the raw response JSON is returned.
type elasticDriver struct{}

func (d *elasticDriver) Execute(ctx context.Context, cfg map[string]string, query string, timeout time.Duration) (string, error) {
	method, path, body, err := parseElasticQuery(query)
	if err != nil {
		return "", err
	}

	base := strings.TrimRight(cfgValue(cfg, "url", "baseUrl"), "/")
	if base == "" {
		return "", errors.New("elasticsearch connector requires a url")
	}

	client := resty.New().SetTimeout(timeout)
	req := client.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if user := cfgValue(cfg, "username"); user != "" {
		req = req.SetBasicAuth(user, cfgValue(cfg, "password"))
	}
	if body != "" {
		req = req.SetBody([]byte(body))
	}

	rsp, err := req.Execute(method, base+path)
	if err != nil {
		return "", fmt.Errorf("elasticsearch request failed: %w", err)
	}
	return rsp.String(), nil
}

func parseElasticQuery(query string) (method, path, body string, err error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", "", "", errors.New("empty elasticsearch query")
	}

	sp := strings.IndexAny(q, " \t\n")
	if sp < 0 {
		return "", "", "", errors.New("elasticsearch query must be \"METHOD /path [body]\"")
	}
	method = strings.ToUpper(q[:sp])
	rest := strings.TrimSpace(q[sp:])

	switch method {
	case "GET", "POST", "PUT", "DELETE", "HEAD":
	default:
		return "", "", "", fmt.Errorf("unsupported method %q", method)
	}

	if sp := strings.IndexAny(rest, " \t\n"); sp >= 0 {
		path = rest[:sp]
		body = strings.TrimSpace(rest[sp:])
	} else {
		path = rest
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return method, path, body, nil
}

func init() {
	Register(model.ConnectorElasticsearch, func() Driver { return &elasticDriver{} })
}

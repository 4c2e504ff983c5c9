// Package config loads the service configuration from enumerated
// environment keys.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config carries every setting the api and worker binaries need. All
// values come from the environment; required keys fail at boot.
type Config struct {
	ESAddress    string
	RedisAddress string
	NATSAddress  string
	ListenAddr   string

	S3Bucket    string
	S3KeyPrefix string
	AWSRegion   string

	JiraServer     string
	JiraUsername   string
	JiraPassword   string
	JiraProjectKey string
	// JiraAssignees maps a team name (ADWORDS, BING, SOCIAL, GRADER) to
	// the tracker username tickets for that team get assigned to.
	JiraAssignees map[string]string

	SlackWebhookDefault string
	SlackWebhookAdwords string
	SlackWebhookSocial  string
	SlackRealUserToken  string

	PapertrailAPIToken string

	KibanaRedirectURL string
	ProductURL        string

	UseCache     bool
	DebugLogging bool
}

// Teams eligible for ticket assignment, in dropdown order.
var Teams = []string{"UNASSIGNED", "ADWORDS", "BING", "SOCIAL", "GRADER"}

// Load reads the environment. ES_ADDRESS and REDIS_ADDRESS are
// required; everything else degrades to a disabled integration.
func Load() (*Config, error) {
	cfg := &Config{
		ESAddress:    os.Getenv("ES_ADDRESS"),
		RedisAddress: os.Getenv("REDIS_ADDRESS"),
		NATSAddress:  getDefault("NATS_ADDRESS", "nats://127.0.0.1:4222"),
		ListenAddr:   getDefault("HTTP_LISTEN_ADDR", ":8080"),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3KeyPrefix: os.Getenv("S3_KEY_PREFIX"),
		AWSRegion:   os.Getenv("AWS_REGION"),

		JiraServer:     os.Getenv("JIRA_SERVER"),
		JiraUsername:   os.Getenv("JIRA_BASIC_AUTH_USERNAME"),
		JiraPassword:   os.Getenv("JIRA_BASIC_AUTH_PASSWORD"),
		JiraProjectKey: os.Getenv("JIRA_PROJECT_KEY"),
		JiraAssignees:  map[string]string{},

		SlackWebhookDefault: os.Getenv("SLACK_WEBHOOK_TRACEBACKS"),
		SlackWebhookAdwords: os.Getenv("SLACK_WEBHOOK_TRACEBACKS_ADWORDS"),
		SlackWebhookSocial:  os.Getenv("SLACK_WEBHOOK_TRACEBACKS_SOCIAL"),
		SlackRealUserToken:  os.Getenv("SLACK_REAL_USER_TOKEN"),

		PapertrailAPIToken: os.Getenv("PAPERTRAIL_API_TOKEN"),

		KibanaRedirectURL: os.Getenv("KIBANA_REDIRECT_URL"),
		ProductURL:        os.Getenv("PRODUCT_URL"),
	}

	for _, team := range Teams {
		if team == "UNASSIGNED" {
			continue
		}
		if assignee := os.Getenv("JIRA_ASSIGNEE_" + team); assignee != "" {
			cfg.JiraAssignees[team] = assignee
		}
	}

	if v, ok := Coerce(os.Getenv("USE_DOGPILE_CACHE")).(bool); ok {
		cfg.UseCache = v
	}
	if v, ok := Coerce(os.Getenv("DEBUG_LOGGING")).(bool); ok {
		cfg.DebugLogging = v
	}

	if cfg.ESAddress == "" {
		return nil, fmt.Errorf("ES_ADDRESS is required")
	}
	if cfg.RedisAddress == "" {
		return nil, fmt.Errorf("REDIS_ADDRESS is required")
	}
	return cfg, nil
}

func getDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Coerce turns a raw environment value into a typed one: "true"/"false"
// become bool, values with a "." are tried as float, then int, and
// anything else stays a string.
func Coerce(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if strings.Contains(raw, ".") {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	return raw
}

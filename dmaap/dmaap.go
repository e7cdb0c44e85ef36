// Package dmaap validates and completes the DMaaP map: the user supplied
// connection details for message router topics and data router feeds, keyed
// by the config key of the stream they serve.
package dmaap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/c360/onboard/errors"
	"github.com/c360/onboard/schema"
)

// Entry types.
const (
	TypeMessageRouter = "message_router"
	TypeDataRouter    = "data_router"
)

// Schema definitions, in matching order.
const (
	DefMessageRouter        = "message_router"
	DefDataRouterPublisher  = "data_router_publisher"
	DefDataRouterSubscriber = "data_router_subscriber"
)

var definitions = []string{DefMessageRouter, DefDataRouterPublisher, DefDataRouterSubscriber}

// Usage describes the accepted entry shapes. It is logged with validation
// failures.
const Usage = `Message router:
    {
        "aaf_username": <string, optional>,
        "aaf_password": <string, optional>,
        "type": "message_router",
        "dmaap_info": {
            "client_role": <string, optional>,
            "client_id": <string, optional>,
            "location": <string, optional>,
            "topic_url": <string, required>
        }
    }

Data router (publisher):
    {
        "type": "data_router",
        "dmaap_info": {
            "location": <string, optional>,
            "publish_url": <string, required>,
            "log_url": <string, optional>,
            "username": <string, optional>,
            "password": <string, optional>,
            "publisher_id": <string, optional>
        }
    }

Data router (subscriber):
    {
        "type": "data_router",
        "dmaap_info": {
            "location": <string, optional>,
            "delivery_url": <string, optional>,
            "username": <string, optional>,
            "password": <string, optional>,
            "subscriber_id": <string, optional>
        }
    }`

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// LoadFile reads a DMaaP map from a JSON file.
func LoadFile(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "dmaap", "LoadFile", "read "+path)
	}
	var m map[string]map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(errors.Join(errors.ErrDMaaPValidation, err), "dmaap", "LoadFile", "decode "+path)
	}
	return m, nil
}

// ValidateMap checks every entry against the DMaaP schema. The first invalid
// entry, in key order, fails the map.
func ValidateMap(logger *slog.Logger, m map[string]map[string]any) error {
	s, err := schema.Load(schema.DMaaP)
	if err != nil {
		return err
	}
	for _, key := range sortedKeys(m) {
		if err := s.Validate(m[key]); err != nil {
			orDefault(logger).Error("DMaaP validation issue", "config_key", key, "error", err)
			orDefault(logger).Error("Does your DMaaP client object follow this format?\n\n" + Usage)
			return errors.WrapInvalid(errors.Join(errors.ErrDMaaPValidation, err), "dmaap", "ValidateMap", "validate "+key)
		}
	}
	return nil
}

// MatchDefinition returns the first schema definition entry conforms to.
func MatchDefinition(entry map[string]any) (string, error) {
	s, err := schema.Load(schema.DMaaP)
	if err != nil {
		return "", err
	}
	for _, def := range definitions {
		if s.ValidateDefinition(def, entry) == nil {
			return def, nil
		}
	}
	return "", errors.WrapInvalid(errors.ErrDMaaPValidation, "dmaap", "MatchDefinition", "no matching definition")
}

// ApplyDefaults fills every entry with the defaults of its matching
// definition. Entries are modified in place.
func ApplyDefaults(m map[string]map[string]any) (map[string]map[string]any, error) {
	s, err := schema.Load(schema.DMaaP)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(m) {
		def, err := MatchDefinition(m[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		props, _ := s.Properties(def)
		m[key] = schema.ApplyDefaults(props, m[key])
	}
	return m, nil
}

// ValidateEntries checks that m provides an entry for every message router
// and data router config key of a component. Missing entries fail the check;
// entries for unknown keys are tolerated so one map can serve many
// components.
func ValidateEntries(logger *slog.Logger, m map[string]map[string]any, mrKeys, drKeys []string) bool {
	logger = orDefault(logger)

	if len(mrKeys)+len(drKeys) > 0 && len(m) == 0 {
		logger.Error("Component has dmaap streams but no dmaap map was provided; use --dmaap-file",
			"message_router", mrKeys, "data_router", drKeys)
		return false
	}

	expected := append(slices.Clone(drKeys), mrKeys...)
	var missing []string
	for _, key := range expected {
		if _, ok := m[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		logger.Error("Missing config keys in dmaap map", "keys", strings.Join(missing, ","))
		return false
	}

	var unexpected []string
	for _, key := range sortedKeys(m) {
		if !slices.Contains(expected, key) {
			unexpected = append(unexpected, key)
		}
	}
	if len(unexpected) > 0 {
		logger.Warn("Unexpected config keys in dmaap map", "keys", strings.Join(unexpected, ","))
	}
	return true
}

// IsDataRouterSubscriber reports whether entry is a data router feed without
// a publish url.
func IsDataRouterSubscriber(entry map[string]any) bool {
	if entry["type"] != TypeDataRouter {
		return false
	}
	info, _ := entry["dmaap_info"].(map[string]any)
	_, publisher := info["publish_url"]
	return !publisher
}

// RouteFunc returns the route of the data router subscriber stream bound to
// configKey.
type RouteFunc func(configKey string) (string, error)

// UpdateDeliveryURLs sets dmaap_info.delivery_url of every data router
// subscriber to baseURL joined with its route. Entries are modified in place.
func UpdateDeliveryURLs(route RouteFunc, baseURL string, m map[string]map[string]any) (map[string]map[string]any, error) {
	for _, key := range sortedKeys(m) {
		entry := m[key]
		if !IsDataRouterSubscriber(entry) {
			continue
		}
		path, err := route(key)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		info, ok := entry["dmaap_info"].(map[string]any)
		if !ok {
			info = make(map[string]any)
			entry["dmaap_info"] = info
		}
		info["delivery_url"] = baseURL + path
	}
	return m, nil
}

// DeliveryURL pairs a config key with its data router delivery url.
type DeliveryURL struct {
	ConfigKey string
	URL       string
}

// ListDeliveryURLs returns the delivery url of every entry that has one,
// in key order.
func ListDeliveryURLs(m map[string]map[string]any) []DeliveryURL {
	var out []DeliveryURL
	for _, key := range sortedKeys(m) {
		info, _ := m[key]["dmaap_info"].(map[string]any)
		if url, ok := info["delivery_url"]; ok {
			out = append(out, DeliveryURL{ConfigKey: key, URL: fmt.Sprint(url)})
		}
	}
	return out
}

func sortedKeys(m map[string]map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

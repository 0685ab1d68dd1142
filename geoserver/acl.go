package geoserver

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const aclLayersPath = "/rest/security/acl/layers"

// Access modes of a layer rule.
const (
	AccessRead  = "r"
	AccessWrite = "w"
)

// RuleKey is the ACL key "<workspace>.<layer>.<mode>".
func RuleKey(workspace, layer, mode string) string {
	return workspace + "." + layer + "." + mode
}

func JoinRoles(roles []string) string {
	seen := make(map[string]bool, len(roles))
	var out []string
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return strings.Join(out, ",")
}

// SetLayerRules creates the given rules. Rules that already exist are
// replaced with a second PUT request.
func (c *Client) SetLayerRules(ctx context.Context, rules map[string]string) error {
	const op = "set acl rules"
	status, body, err := c.do(ctx, op, http.MethodPost, aclLayersPath, rules)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		status, body, err = c.do(ctx, op, http.MethodPut, aclLayersPath, rules)
		if err != nil {
			return err
		}
		if status == http.StatusOK || status == http.StatusCreated {
			return nil
		}
	}
	return statusError(op, status, body)
}

// DeleteLayerRule removes one rule; a missing rule reports false.
func (c *Client) DeleteLayerRule(ctx context.Context, rule string) (bool, error) {
	const op = "delete acl rule"
	status, body, err := c.do(ctx, op, http.MethodDelete, aclLayersPath+"/"+url.PathEscape(rule), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		c.log.Debug("acl rule deleted", zap.String("rule", rule))
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(op, status, body)
}

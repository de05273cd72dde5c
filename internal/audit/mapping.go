// Package audit persists security events and query audit entries and maps RPC and HTTP routes
// to the action/resource pairs used in audit records and permission checks.
package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds the action and resource derived from a gRPC method or HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Permission returns the "resource:action" permission string checked by the policy engine.
func (ar ActionResource) Permission() string {
	return ar.Resource + ":" + ar.Action
}

// ParseFullMethod returns action and resource for a gRPC full method (e.g. /grpc.health.v1.Health/Check).
// Action is a verb: read, list, create, update, delete, or a lowercase method name for others.
// Resource is derived from the service name (e.g. SecurityReportService -> securityReport).
func ParseFullMethod(fullMethod string) ActionResource {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	return ActionResource{Action: methodToAction(method), Resource: serviceToResource(beforeSlash[dot+1:])}
}

// ParseRoute returns action and resource for an HTTP request on an /api/ path:
// GET /api/security/report -> read security; POST /api/auth/revoke-all -> create auth.
func ParseRoute(method, path string) ActionResource {
	resource := "unknown"
	rest := strings.TrimPrefix(path, "/api/")
	if rest != path {
		if seg, _, _ := strings.Cut(rest, "/"); seg != "" {
			resource = seg
		}
	}
	return ActionResource{Action: httpMethodToAction(method), Resource: resource}
}

func serviceToResource(serviceName string) string {
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

func methodToAction(method string) string {
	switch {
	case strings.HasPrefix(method, "Get") && method != "Get":
		return "read"
	case strings.HasPrefix(method, "List"):
		return "list"
	case strings.HasPrefix(method, "Create"):
		return "create"
	case strings.HasPrefix(method, "Update"):
		return "update"
	case strings.HasPrefix(method, "Delete"):
		return "delete"
	case strings.HasPrefix(method, "Revoke"):
		return "revoke"
	default:
		return strings.ToLower(method)
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

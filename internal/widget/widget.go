package widget

import (
	_ "embed"
	"strings"
)

// RelayPath is where the widget script posts conversations
const RelayPath = "/api/cors-anywhere/agent_widget_request"

const (
	idPlaceholder       = "__WIDGET_ID_PLACEHOLDER__"
	endpointPlaceholder = "__API_ENDPOINT_PLACEHOLDER__"
)

//go:embed assets/widget.js
var template string

// Script renders the widget script for one widget
func Script(widgetID, publicBaseURL string) string {
	endpoint := strings.TrimRight(publicBaseURL, "/") + RelayPath
	return strings.NewReplacer(
		idPlaceholder, widgetID,
		endpointPlaceholder, endpoint,
	).Replace(template)
}

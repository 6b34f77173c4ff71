package mcprouter

// errorEnvelope builds the uniform failure shape shared by every meta-tool:
// {"status": "error", "error": <message>, ...context}.
func errorEnvelope(msg string, extra map[string]any) map[string]any {
	env := map[string]any{
		"status": "error",
		"error":  msg,
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func connectSuggestion(server string) string {
	return "Connect first with: manage_servers {\"connect\": \"" + server + "\"}"
}

package door

import "strings"

// ActionType tells the reactor what to do with an interpreted client line.
type ActionType int

const (
	// ActionWarn: unknown verb, log and ignore.
	ActionWarn ActionType = iota
	// ActionEnqueue: push a device command.
	ActionEnqueue
	// ActionLog: write an external message to the daemon log.
	ActionLog
	// ActionListen: add subscriptions to the originating connection.
	ActionListen
	// ActionIgnore: nothing to do; Reason says why.
	ActionIgnore
)

// Action is the outcome of interpreting one client line.
type Action struct {
	Type ActionType
	Kind Kind
	// Param is the text after the first space, if any.
	Param string
	// Categories is set for ActionListen.
	Categories Category
	// Request is the notification for request listeners, set for open,
	// close and toggle.
	Request string
	// Reason explains ActionWarn and ActionIgnore.
	Reason string
}

var verbs = []struct {
	verb string
	kind Kind
}{
	{"open", KindOpen},
	{"close", KindClose},
	{"toggle", KindToggle},
	{"reset", KindReset},
	{"status", KindStatus},
	{"log", KindLog},
	{"listen", KindListen},
}

// Interpret maps one decoded client line to an Action. Verbs are case
// sensitive and matched as a prefix of the line.
func Interpret(line string) Action {
	kind, ok := matchVerb(line)
	if !ok {
		return Action{Type: ActionWarn, Reason: "unknown command '" + line + "'"}
	}

	param, hasParam := "", false
	if i := strings.IndexByte(line, ' '); i >= 0 {
		param, hasParam = line[i+1:], true
	}

	switch kind {
	case KindLog:
		if param == "" {
			return Action{Type: ActionIgnore, Kind: kind, Reason: "ignoring empty ext log message"}
		}
		return Action{Type: ActionLog, Kind: kind, Param: param}

	case KindListen:
		if !hasParam {
			return Action{Type: ActionListen, Kind: kind, Categories: CategoryAll}
		}
		cat, ok := parseCategory(param)
		if !ok {
			return Action{Type: ActionIgnore, Kind: kind, Param: param, Reason: "unknown listener type '" + param + "'"}
		}
		return Action{Type: ActionListen, Kind: kind, Param: param, Categories: cat}
	}

	a := Action{Type: ActionEnqueue, Kind: kind, Param: param}
	if kind == KindOpen || kind == KindClose || kind == KindToggle {
		a.Request = RequestNotice(line)
	}
	return a
}

// RequestNotice builds the line sent to request listeners for a client line.
func RequestNotice(line string) string {
	s := "Request: " + line
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func matchVerb(line string) (Kind, bool) {
	for _, v := range verbs {
		if strings.HasPrefix(line, v.verb) {
			return v.kind, true
		}
	}
	return 0, false
}

func parseCategory(param string) (Category, bool) {
	switch {
	case strings.HasPrefix(param, "status"):
		return CategoryStatus, true
	case strings.HasPrefix(param, "error"):
		return CategoryError, true
	case strings.HasPrefix(param, "request"):
		return CategoryRequest, true
	}
	return 0, false
}

// ResponseCategory classifies a device line for fan-out. ok is false for
// lines that are only logged.
func ResponseCategory(line string) (Category, bool) {
	switch {
	case strings.HasPrefix(line, "Status:"):
		return CategoryStatus, true
	case strings.HasPrefix(line, "Error:"):
		return CategoryError, true
	}
	return 0, false
}

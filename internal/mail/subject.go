package mail

import "fmt"

// Subject derives the subject line for kind from its variables. The result is
// deterministic for the same inputs.
func Subject(kind Kind, vars Variables, appName string) (string, error) {
	switch kind {
	case KindWelcome:
		if name := stringVar(vars, "name"); name != "" {
			return fmt.Sprintf("Welcome to %s, %s!", appOrDefault(appName), name), nil
		}
		return fmt.Sprintf("Welcome to %s!", appOrDefault(appName)), nil
	case KindInvitation:
		inviter := stringVar(vars, "inviterName")
		if inviter == "" {
			inviter = "Someone"
		}
		target := stringVar(vars, "organizationName")
		if target == "" {
			target = appOrDefault(appName)
		}
		return fmt.Sprintf("%s invited you to join %s", inviter, target), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMailKind, kind)
}

func stringVar(vars Variables, key string) string {
	v, ok := vars[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func appOrDefault(appName string) string {
	if appName == "" {
		return "our app"
	}
	return appName
}

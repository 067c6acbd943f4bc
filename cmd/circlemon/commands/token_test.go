package commands

import (
	"encoding/json"
	"testing"

	"github.com/circlemon/circlemon/pkg/auth"
)

func TestTokenIssueCommand(t *testing.T) {
	const key = "test-signing-key-32-bytes-long!!"

	root, stdout, _ := newTestRoot(t, NewTokenCommand(),
		"token", "issue", "--subject", "release-bot", "--signing-key", key, "--ttl", "2h", "-o", "json")
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var issued auth.IssuedToken
	if err := json.Unmarshal(stdout.Bytes(), &issued); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if issued.Subject != "release-bot" {
		t.Errorf("Subject = %q, want %q", issued.Subject, "release-bot")
	}

	tokens, err := auth.NewTokenManager([]byte(key))
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	claims, err := tokens.Validate(issued.Token, auth.ScopeRunPass)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Subject != "release-bot" {
		t.Errorf("claims.Subject = %q", claims.Subject)
	}
}

func TestTokenIssueCommand_RequiresKey(t *testing.T) {
	root, _, _ := newTestRoot(t, NewTokenCommand(), "token", "issue", "--subject", "release-bot")
	if err := root.Execute(); err == nil {
		t.Error("Execute() without a signing key should fail")
	}
}

func TestTokenIssueCommand_RequiresSubject(t *testing.T) {
	root, _, _ := newTestRoot(t, NewTokenCommand(), "token", "issue", "--signing-key", "k")
	if err := root.Execute(); err == nil {
		t.Error("Execute() without a subject should fail")
	}
}

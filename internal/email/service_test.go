package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{
			name:     "missing host",
			config:   Config{Port: "587", From: "test@example.com"},
			expected: false,
		},
		{
			name:     "missing port",
			config:   Config{Host: "smtp.example.com", From: "test@example.com"},
			expected: false,
		},
		{
			name:     "missing from",
			config:   Config{Host: "smtp.example.com", Port: "587"},
			expected: false,
		},
		{
			name:     "fully configured",
			config:   Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendEmailUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"a@b.c"}, "hi", "body"); err == nil {
		t.Fatal("want error when not configured")
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, verificationData{
		AppName:         "Jaracar",
		UserName:        "Test User",
		VerificationURL: "https://example.com/verify?token=abc123",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Jaracar") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
	if !strings.Contains(html, "approval") {
		t.Error("template should mention the staff approval step")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	html, err := renderTemplate(passwordResetEmailTemplate, passwordResetData{
		AppName:  "Jaracar",
		UserName: "Test User",
		ResetURL: "https://example.com/reset?token=xyz789",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderAbsenceDecisionTemplate(t *testing.T) {
	approved, err := renderTemplate(absenceDecisionEmailTemplate, absenceDecisionData{
		AppName:   "Jaracar",
		UserName:  "Mara",
		StartDate: "2026-02-01",
		EndDate:   "2026-02-07",
		Approved:  true,
		Comment:   "Enjoy your trip",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(approved, "approved") {
		t.Error("approved template should say approved")
	}
	if !strings.Contains(approved, "Enjoy your trip") {
		t.Error("approved template should include the comment")
	}

	rejected, err := renderTemplate(absenceDecisionEmailTemplate, absenceDecisionData{
		AppName:   "Jaracar",
		UserName:  "Mara",
		StartDate: "2026-02-01",
		EndDate:   "2026-02-07",
		Approved:  false,
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(rejected, "rejected") {
		t.Error("rejected template should say rejected")
	}
	if strings.Contains(rejected, "Staff comment") {
		t.Error("empty comment should not render a comment block")
	}
}

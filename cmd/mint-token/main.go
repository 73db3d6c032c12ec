package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/service"
	"golang.org/x/term"
)

// mint-token signs a token the way the external auth service does, for local
// testing of the student and proctor surfaces.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Mint Access Token ===")

	// Token type
	fmt.Print("Token type [student/admin] (default student): ")
	kind, _ := reader.ReadString('\n')
	kind = strings.TrimSpace(kind)
	tokenType := service.TokenTypeStudent
	switch kind {
	case "", "student":
	case "admin":
		tokenType = service.TokenTypeAdmin
	default:
		fmt.Println("Error: token type must be student or admin")
		return
	}

	// Subject
	fmt.Print("Enter Subject (student or admin ID): ")
	subject, _ := reader.ReadString('\n')
	subject = strings.TrimSpace(subject)
	if subject == "" {
		fmt.Println("Error: Subject is required")
		return
	}

	// Permissions
	var permissions []string
	if tokenType == service.TokenTypeAdmin {
		fmt.Print("Permissions, comma separated (e.g. exams:monitor,system:read): ")
		raw, _ := reader.ReadString('\n')
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				permissions = append(permissions, p)
			}
		}
	}

	// Secret
	secret := cfg.JWTSecret
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print("JWT Secret (blank uses JWT_SECRET): ")
		byteSecret, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			fmt.Println("\nError reading secret")
			return
		}
		fmt.Println() // Newline after secret input
		if s := strings.TrimSpace(string(byteSecret)); s != "" {
			secret = s
		}
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	token, err := service.NewAuthService(secret, cfg.JWTExpiry).GenerateToken(tokenType, subject, permissions)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nToken for %s '%s' (valid %s):\n%s\n", tokenType, subject, cfg.JWTExpiry, token)
}

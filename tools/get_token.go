//go:build ignore

// get_token walks through the OAuth consent flow once and prints the refresh
// token the Gmail source needs. Run with: go run tools/get_token.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Fatalf("error reading .env file: %v", err)
	}

	clientID := os.Getenv("GMAIL_CLIENT_ID")
	clientSecret := os.Getenv("GMAIL_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		logrus.Fatal("GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET must be set")
	}

	redirect := os.Getenv("GMAIL_REDIRECT_URL")
	if redirect == "" {
		redirect = "http://localhost:8080/callback"
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  redirect,
	}

	authURL := cfg.AuthCodeURL("mailflow", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Open this link and approve read-only mailbox access:\n\n%s\n\n", authURL)
	fmt.Print("Paste the 'code' parameter from the redirect URL: ")

	var code string
	if _, err := fmt.Scan(&code); err != nil {
		logrus.Fatalf("failed to read authorization code: %v", err)
	}

	tok, err := cfg.Exchange(context.Background(), code)
	if err != nil {
		logrus.Fatalf("failed to exchange authorization code: %v", err)
	}
	if tok.RefreshToken == "" {
		logrus.Fatal("no refresh token returned; revoke the app's access and try again")
	}

	fmt.Printf("\nexport GMAIL_REFRESH_TOKEN=%q\n", tok.RefreshToken)
}

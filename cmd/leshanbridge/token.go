package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-leshan/internal/auth"
)

var errTokenUsage = errors.New("usage: leshanbridge token [-role viewer|admin] [-ttl 15m] <subject>")

type tokenOptions struct {
	subject string
	role    auth.Role
	ttl     time.Duration
}

func parseTokenArgs(args []string) (tokenOptions, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	role := fs.String("role", string(auth.RoleViewer), "token role (viewer or admin)")
	ttl := fs.Duration("ttl", 0, "token lifetime; zero uses security.jwt.access_token_ttl")

	if err := fs.Parse(args); err != nil {
		return tokenOptions{}, fmt.Errorf("%w: %w", errTokenUsage, err)
	}
	if fs.NArg() != 1 || fs.Arg(0) == "" {
		return tokenOptions{}, errTokenUsage
	}

	opts := tokenOptions{subject: fs.Arg(0), role: auth.Role(*role), ttl: *ttl}
	if !opts.role.Valid() {
		return tokenOptions{}, fmt.Errorf("%w: unknown role %q", errTokenUsage, *role)
	}
	if opts.ttl < 0 {
		return tokenOptions{}, fmt.Errorf("%w: negative ttl", errTokenUsage)
	}
	return opts, nil
}

func issueToken(opts tokenOptions, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("security.jwt.secret is not set: %w", auth.ErrNoSecret)
	}
	token, err := auth.GenerateAccessToken(opts.subject, opts.role, secret, opts.ttl)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

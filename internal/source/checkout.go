package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"bstate/internal/config"
	"bstate/internal/logging"
	"bstate/internal/manifest"
	"bstate/internal/run"
)

// CheckoutError is returned once every checkout attempt has failed.
type CheckoutError struct {
	Package  string
	Branch   string
	Command  string
	Output   string
	ExitCode int
	LogFile  string
	Attempts int
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("failed to checkout %q (using branch %q) after %d attempts: cmd %q failed with error %q "+
		"with returncode %d. Check %s for details",
		e.Package, e.Branch, e.Attempts, e.Command, strings.TrimSpace(e.Output), e.ExitCode, e.LogFile)
}

// checkoutPlan is the command sequence for one checkout call. Update plans
// reuse the existing clone; fresh plans re-clone from scratch.
type checkoutPlan struct {
	update bool
	branch string
	steps  [][]string
}

func (r *Repository) plan(ctx context.Context, branch string) checkoutPlan {
	existingBranch := r.ExistingBranch(ctx)
	existingOrigin, _ := r.RemoteOriginAndSHA(ctx)
	path := r.Source.Path

	if existingBranch != "" && existingBranch == branch && existingOrigin == r.Source.Origin {
		return checkoutPlan{
			update: true,
			branch: branch,
			steps: [][]string{
				{"-C", path, "fetch", "origin"},
				{"-C", path, "checkout", branch},
				{"-C", path, "reset", "--hard", "origin/" + branch},
			},
		}
	}

	return checkoutPlan{
		branch: branch,
		steps: [][]string{
			{"clone", "--recurse-submodules", "--depth", "1", "--single-branch", "--branch", branch, r.Source.Origin, path},
			{"-C", path, "checkout", branch},
		},
	}
}

type attemptState int

const (
	stateAttempting attemptState = iota
	stateSucceeded
	stateExhausted
)

type stepFailure struct {
	command  string
	output   string
	exitCode int
}

// Checkout brings the local clone to the resolved branch of the source,
// retrying the whole command sequence up to retries times.
func (r *Repository) Checkout(ctx context.Context, retries int) error {
	if err := config.ValidateRetries(retries); err != nil {
		return err
	}
	if err := r.ValidateCheckout(); err != nil {
		return err
	}

	branch := r.ResolveBranch(ctx)
	p := r.plan(ctx, branch)

	var failure *stepFailure
	attempt := 1
	state := stateAttempting
	for state == stateAttempting {
		var err error
		failure, err = r.attempt(ctx, p, attempt)
		if err != nil {
			return err
		}

		switch {
		case failure == nil:
			state = stateSucceeded
		case attempt >= retries:
			state = stateExhausted
		default:
			slog.Warn(fmt.Sprintf("Failed cmd %q with error %q with returncode %d. Check %s for details.",
				failure.command, strings.TrimSpace(failure.output), failure.exitCode, r.LogFile()),
				"package", r.Source.Name, "attempt", attempt)
			attempt++
		}
	}

	if state == stateExhausted {
		return &CheckoutError{
			Package:  r.Source.Name,
			Branch:   branch,
			Command:  failure.command,
			Output:   failure.output,
			ExitCode: failure.exitCode,
			LogFile:  r.LogFile(),
			Attempts: attempt,
		}
	}

	if err := r.recordCheckout(ctx); err != nil {
		return err
	}

	verb := "Checkout"
	if p.update {
		verb = "Updating"
	}
	slog.Info(fmt.Sprintf("%s of git repo %q (using branch %q) complete", verb, r.Source.Name, branch),
		"package", r.Source.Name, "branch", branch)
	return nil
}

// attempt runs every step of p once. A nonzero exit stops the attempt and is
// reported as a stepFailure; err is reserved for failures that retrying
// cannot fix.
func (r *Repository) attempt(ctx context.Context, p checkoutPlan, n int) (*stepFailure, error) {
	action, mode := "Checking out", logging.ModeTruncate
	switch {
	case n > 1 && p.update:
		action, mode = "Retrying to update", logging.ModeAppend
	case n > 1:
		action, mode = "Retrying to checkout", logging.ModeAppend
	case p.update:
		action = "Updating"
	}
	msg := fmt.Sprintf("%s git repo %q (using branch %q) (%s)", action, r.Source.Name, p.branch, r.LogFile())
	if n == 1 {
		slog.Debug(msg)
	} else {
		slog.Warn(msg)
	}

	if !p.update {
		if err := run.RemoveTree(ctx, r.Runner, r.Source.Path); err != nil {
			return nil, fmt.Errorf("failed to remove %s before checkout: %w", r.Source.Path, err)
		}
	}

	scope, err := logging.OpenScope(r.LogFile(), mode)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	if n > 1 {
		scope.Logger().Warn(fmt.Sprintf("\n\n ##### Attempt %d ##### \n\n", n))
	}

	gitArgs := r.GitArgs()
	for _, step := range p.steps {
		argv := append(append([]string(nil), gitArgs...), step...)
		res, err := r.Runner.Run(ctx, argv, run.Options{AllowFailure: true, Log: scope.Writer()})
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return &stepFailure{
				command:  strings.Join(argv, " "),
				output:   res.Output(),
				exitCode: res.ExitCode,
			}, nil
		}
	}
	return nil, nil
}

func (r *Repository) recordCheckout(ctx context.Context) error {
	if r.ManifestPath == "" {
		return nil
	}
	url, sha := r.RemoteOriginAndSHA(ctx)
	if err := manifest.UpdateSource(r.ManifestPath, r.Source.Name, url, sha); err != nil {
		return fmt.Errorf("failed to update git manifest: %w", err)
	}
	return nil
}

package resultstore

import (
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// GitPublisher commits and pushes the working tree after each store
// mutation. It shells out to the git binary; the working tree must be
// a clone with push credentials already configured.
type GitPublisher struct {
	dir    string
	remote string
	branch string
	logger *logrus.Entry
}

// NewGitPublisher builds a publisher for the clone at dir.
func NewGitPublisher(dir, remote, branch string) *GitPublisher {
	return &GitPublisher{
		dir:    dir,
		remote: remote,
		branch: branch,
		logger: logrus.WithField("component", "git-publisher"),
	}
}

// Publish stages everything, commits with the given message and pushes.
// An empty commit (no staged changes) is not an error.
func (p *GitPublisher) Publish(message string) error {
	if out, err := p.git("add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %w, output: %s", err, out)
	}
	if out, err := p.git("diff", "--cached", "--quiet"); err == nil {
		p.logger.WithField("output", out).Debug("Nothing staged, skipping commit.")
		return nil
	}
	if out, err := p.git("commit", "-m", message); err != nil {
		return fmt.Errorf("git commit failed: %w, output: %s", err, out)
	}
	if out, err := p.git("push", p.remote, fmt.Sprintf("HEAD:%s", p.branch)); err != nil {
		return fmt.Errorf("git push failed: %w, output: %s", err, out)
	}
	return nil
}

func (p *GitPublisher) git(args ...string) (string, error) {
	command := exec.Command("git", args...)
	command.Dir = p.dir
	out, err := command.CombinedOutput()
	return string(out), err
}

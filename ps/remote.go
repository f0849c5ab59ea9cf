package ps

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/go-git/go-git/v6/plumbing/transport/ssh"
	"github.com/nickyhof/CommitCatalog/core"
)

// AuthType defines the type of authentication
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeToken AuthType = "token"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeBasic AuthType = "basic"
)

// RemoteAuth holds authentication configuration for remote operations
type RemoteAuth struct {
	Type       AuthType
	Token      string // For token auth
	KeyPath    string // For SSH key auth
	Passphrase string // For SSH key with passphrase
	Username   string // For basic auth
	Password   string // For basic auth
}

// Remote is a configured git remote the catalog can be pushed to
type Remote struct {
	Name string
	URLs []string
}

// getAuthMethod converts RemoteAuth to go-git's AuthMethod
func (auth *RemoteAuth) getAuthMethod() (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}

	switch auth.Type {
	case AuthTypeNone:
		return nil, nil

	case AuthTypeToken:
		// Token auth uses username "git" or any non-empty string
		return &http.BasicAuth{
			Username: "git",
			Password: auth.Token,
		}, nil

	case AuthTypeSSH:
		keyPath := auth.KeyPath
		if keyPath == "" {
			// Default to ~/.ssh/id_rsa
			home, _ := os.UserHomeDir()
			keyPath = home + "/.ssh/id_rsa"
		}

		if auth.Passphrase != "" {
			return ssh.NewPublicKeysFromFile("git", keyPath, auth.Passphrase)
		}
		return ssh.NewPublicKeysFromFile("git", keyPath, "")

	case AuthTypeBasic:
		return &http.BasicAuth{
			Username: auth.Username,
			Password: auth.Password,
		}, nil

	default:
		return nil, fmt.Errorf("unknown auth type: %s", auth.Type)
	}
}

// AddRemote adds a named remote to the repository
func (p *Persistence) AddRemote(name, url string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	_, err := p.repo.CreateRemote(&config.RemoteConfig{
		Name: name,
		URLs: []string{url},
	})
	if err != nil {
		return fmt.Errorf("failed to add remote '%s': %w", name, err)
	}
	return nil
}

// ListRemotes returns all configured remotes
func (p *Persistence) ListRemotes() ([]Remote, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	remotes, err := p.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}

	result := make([]Remote, len(remotes))
	for i, r := range remotes {
		cfg := r.Config()
		result[i] = Remote{
			Name: cfg.Name,
			URLs: cfg.URLs,
		}
	}
	return result, nil
}

// RemoveRemote removes a remote from the repository
func (p *Persistence) RemoveRemote(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	err := p.repo.DeleteRemote(name)
	if err != nil {
		return fmt.Errorf("failed to remove remote '%s': %w", name, err)
	}
	return nil
}

// catalogRefSpecs mirrors every branch and tag.
var catalogRefSpecs = []config.RefSpec{
	"refs/heads/*:refs/heads/*",
	"refs/tags/*:refs/tags/*",
}

// Push publishes every branch and tag to a remote. Remote branches that
// have diverged are rejected by the remote rather than overwritten.
func (p *Persistence) Push(remoteName string, auth *RemoteAuth) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	// Default to origin if not specified
	if remoteName == "" {
		remoteName = "origin"
	}

	authMethod, err := auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	p.refMu.RLock()
	defer p.refMu.RUnlock()
	defer p.lockObjectsForRead()()

	err = p.repo.Push(&git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   catalogRefSpecs,
		Auth:       authMethod,
	})

	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil // Not an error
	}
	if err != nil {
		return fmt.Errorf("failed to push to '%s': %w", remoteName, err)
	}
	return nil
}

// Fetch downloads a remote's branches into refs/remotes/<remote>/. They are
// not catalog references, so fetching never changes what a pointer resolves
// to; tags are not followed for the same reason.
func (p *Persistence) Fetch(remoteName string, auth *RemoteAuth) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}

	// Default to origin if not specified
	if remoteName == "" {
		remoteName = "origin"
	}

	authMethod, err := auth.getAuthMethod()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	p.refMu.Lock()
	defer p.refMu.Unlock()
	p.objMu.Lock()
	defer p.objMu.Unlock()

	refSpec := config.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remoteName))
	err = p.repo.Fetch(&git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Tags:       git.NoTags,
		Auth:       authMethod,
	})

	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil // Not an error
	}
	if err != nil {
		return fmt.Errorf("failed to fetch from '%s': %w", remoteName, err)
	}
	return nil
}

// RemoteBranches lists the branch heads recorded by the last Fetch from
// remoteName, keyed by branch name.
func (p *Persistence) RemoteBranches(remoteName string) (map[string]core.Hash, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.refMu.RLock()
	defer p.refMu.RUnlock()

	iter, err := p.repo.Storer.IterReferences()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	prefix := "refs/remotes/" + remoteName + "/"
	branches := make(map[string]core.Hash)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if ref.Type() == plumbing.HashReference && strings.HasPrefix(name, prefix) {
			branches[strings.TrimPrefix(name, prefix)] = fromGitHash(ref.Hash())
		}
		return nil
	})
	return branches, err
}

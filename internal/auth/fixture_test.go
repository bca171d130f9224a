package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/isometry/terraform-provider-ldapauth/internal/ldap"
	"github.com/isometry/terraform-provider-ldapauth/internal/ldap/ldaptest"
)

const (
	host       = "ldap.example.org"
	addr       = host + ":389"
	baseDN     = "dc=example,dc=org"
	serviceDN  = "cn=service,dc=example,dc=org"
	servicePW  = "service-secret"
	aliceDN    = "uid=alice,ou=people,dc=example,dc=org"
	bobDN      = "uid=bob,ou=people,dc=example,dc=org"
	carolDN    = "cn=carol,ou=people,dc=example,dc=org"
	userFilter = "(objectClass=person)"
	adminGroup = "(memberOf=cn=admins,ou=groups,dc=example,dc=org)"
)

// memoryStore is a UserStore that counts mutations.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]*UserRecord
	nextID  int

	creates int
	updates int

	findErr   error
	createErr error
	updateErr error

	// preempt is stored just before the next Create, as if another login
	// had provisioned it first.
	preempt *UserRecord
	// onFind, when set, may fail an individual FindByUsername call.
	onFind func() error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]*UserRecord{}}
}

func (s *memoryStore) FindByUsername(_ context.Context, username string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.onFind != nil {
		if err := s.onFind(); err != nil {
			return nil, err
		}
	}
	r, ok := s.records[username]
	if !ok {
		return nil, nil
	}
	return clone(r), nil
}

func (s *memoryStore) Create(_ context.Context, record *UserRecord) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.preempt != nil {
		s.insert(s.preempt)
		s.preempt = nil
	}
	if _, ok := s.records[record.Username]; ok {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, record.Username)
	}
	s.creates++
	return clone(s.insert(record)), nil
}

// insert stores a copy of record under a fresh ID. The caller holds mu.
func (s *memoryStore) insert(record *UserRecord) *UserRecord {
	s.nextID++
	r := clone(record)
	r.ID = fmt.Sprintf("user-%d", s.nextID)
	if r.EnabledFolders == nil {
		r.EnabledFolders = []string{}
	}
	s.records[r.Username] = r
	return r
}

func (s *memoryStore) Update(_ context.Context, record *UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.records[record.Username]; !ok {
		return errors.New("record not found")
	}
	s.updates++
	s.records[record.Username] = clone(record)
	return nil
}

func (s *memoryStore) get(username string) *UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[username]; ok {
		return clone(r)
	}
	return nil
}

func (s *memoryStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates + s.updates
}

func clone(r *UserRecord) *UserRecord {
	c := *r
	c.EnabledFolders = slices.Clone(r.EnabledFolders)
	return &c
}

// newFixture returns a directory holding alice, bob and carol (who has no
// uid), an empty store and settings that provision users on first login.
func newFixture(t *testing.T) (*ldaptest.Directory, *ldaptest.Server, *memoryStore, Settings) {
	t.Helper()

	srv := ldaptest.NewServer(
		ldaptest.Entry(aliceDN, map[string][]string{
			"uid":  {"alice"},
			"mail": {"alice@example.org"},
		}),
		ldaptest.Entry(bobDN, map[string][]string{
			"uid":  {"bob"},
			"mail": {"bob@example.org"},
		}),
		ldaptest.Entry(carolDN, map[string][]string{
			"cn":   {"carol"},
			"mail": {"carol@example.org"},
		}),
	)
	srv.Passwords[serviceDN] = servicePW
	srv.Passwords[aliceDN] = "secret"
	srv.Passwords[bobDN] = "hunter2"
	srv.Passwords[carolDN] = "carol-pw"
	srv.Filters[userFilter] = []string{aliceDN, bobDN, carolDN}
	srv.PasswordAttribute = "userPassword"

	dir := ldaptest.NewDirectory()
	dir.AddServer(addr, srv)

	settings := Settings{
		Directory: ldap.DirectoryConfig{
			Host:                     host,
			BindDN:                   serviceDN,
			BindPassword:             servicePW,
			BaseDN:                   baseDN,
			SearchFilter:             userFilter,
			UsernameAttributes:       []string{"uid", "mail"},
			PrimaryUsernameAttribute: "uid",
		},
		CreateUsers:      true,
		EnableAllFolders: true,
	}
	if err := settings.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}

	return dir, srv, newMemoryStore(), settings
}

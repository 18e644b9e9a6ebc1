package directory

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// LDAPOptions configures an LDAP-backed directory.
type LDAPOptions struct {
	URL           string
	BindDN        string
	BindPassword  string
	UserBaseDN    string
	UserFilter    string // format string, e.g. "(uid=%s)"
	UseTLS        bool
	SkipTLSVerify bool

	// Attribute names on the user entry. Groups, the confirmed-mail flag
	// and the blocked flag all live on the entry itself so a single
	// modify request covers a Save.
	UsernameAttr  string // default "uid"
	RealNameAttr  string // default "cn"
	MailAttr      string // default "mail"
	ConfirmedAttr string // default "mailVerified", value TRUE/FALSE
	BlockedAttr   string // default "accountLocked", value TRUE/FALSE
	GroupAttr     string // default "memberOf"
}

// LDAPDirectory is an LDAP-backed account store. Accounts are inetOrgPerson
// entries under UserBaseDN; the entry DN doubles as the account ID.
type LDAPDirectory struct {
	opts LDAPOptions
}

// NewLDAPDirectory creates an LDAP-backed directory.
func NewLDAPDirectory(opts LDAPOptions) (*LDAPDirectory, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("ldap url not configured")
	}
	if opts.BindDN == "" || opts.BindPassword == "" {
		return nil, fmt.Errorf("ldap bind credentials not configured")
	}
	if opts.UserBaseDN == "" {
		return nil, fmt.Errorf("ldap user_base_dn not configured")
	}
	if opts.UserFilter == "" {
		opts.UserFilter = "(uid=%s)"
	}
	if opts.UsernameAttr == "" {
		opts.UsernameAttr = "uid"
	}
	if opts.RealNameAttr == "" {
		opts.RealNameAttr = "cn"
	}
	if opts.MailAttr == "" {
		opts.MailAttr = "mail"
	}
	if opts.ConfirmedAttr == "" {
		opts.ConfirmedAttr = "mailVerified"
	}
	if opts.BlockedAttr == "" {
		opts.BlockedAttr = "accountLocked"
	}
	if opts.GroupAttr == "" {
		opts.GroupAttr = "memberOf"
	}
	return &LDAPDirectory{opts: opts}, nil
}

func (d *LDAPDirectory) connect() (*ldap.Conn, error) {
	var conn *ldap.Conn
	var err error

	if d.opts.UseTLS {
		tlsConfig := &tls.Config{InsecureSkipVerify: d.opts.SkipTLSVerify}
		//nolint:staticcheck // SA1019: Using DialTLS for compatibility
		conn, err = ldap.DialTLS("tcp", d.opts.URL, tlsConfig)
	} else {
		//nolint:staticcheck // SA1019: Using Dial for compatibility
		conn, err = ldap.Dial("tcp", d.opts.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP: %w", err)
	}

	if err := conn.Bind(d.opts.BindDN, d.opts.BindPassword); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to bind to LDAP: %w", err)
	}
	return conn, nil
}

// FindByName looks up an account DN by username.
func (d *LDAPDirectory) FindByName(ctx context.Context, username string) (string, bool, error) {
	conn, err := d.connect()
	if err != nil {
		return "", false, err
	}
	defer func() { _ = conn.Close() }()

	filter := fmt.Sprintf(d.opts.UserFilter, ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		d.opts.UserBaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		[]string{"dn"},
		nil,
	)

	sr, err := conn.Search(req)
	if err != nil {
		return "", false, fmt.Errorf("failed to search LDAP: %w", err)
	}
	if len(sr.Entries) == 0 {
		return "", false, nil
	}
	if len(sr.Entries) > 1 {
		return "", false, fmt.Errorf("multiple LDAP entries for username %q", username)
	}
	return sr.Entries[0].DN, true, nil
}

// Load returns the full account record for a DN.
func (d *LDAPDirectory) Load(ctx context.Context, id string) (*LocalAccount, error) {
	conn, err := d.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	req := ldap.NewSearchRequest(
		id,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(objectClass=*)",
		[]string{
			d.opts.UsernameAttr,
			d.opts.RealNameAttr,
			d.opts.MailAttr,
			d.opts.ConfirmedAttr,
			d.opts.BlockedAttr,
			d.opts.GroupAttr,
		},
		nil,
	)

	sr, err := conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load LDAP entry: %w", err)
	}
	if len(sr.Entries) == 0 {
		return nil, ErrNotFound
	}

	entry := sr.Entries[0]
	return &LocalAccount{
		ID:             entry.DN,
		Username:       entry.GetAttributeValue(d.opts.UsernameAttr),
		RealName:       entry.GetAttributeValue(d.opts.RealNameAttr),
		Email:          entry.GetAttributeValue(d.opts.MailAttr),
		EmailConfirmed: entry.GetAttributeValue(d.opts.ConfirmedAttr) == "TRUE",
		Blocked:        entry.GetAttributeValue(d.opts.BlockedAttr) == "TRUE",
		Groups:         entry.GetAttributeValues(d.opts.GroupAttr),
	}, nil
}

// Create adds a new user entry under UserBaseDN.
func (d *LDAPDirectory) Create(ctx context.Context, acct *LocalAccount) (string, error) {
	conn, err := d.connect()
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	dn := fmt.Sprintf("%s=%s,%s",
		d.opts.UsernameAttr, ldap.EscapeDN(acct.Username), d.opts.UserBaseDN)

	add := ldap.NewAddRequest(dn, nil)
	add.Attribute("objectClass", []string{"inetOrgPerson"})
	add.Attribute(d.opts.UsernameAttr, []string{acct.Username})
	// cn and sn are mandatory for inetOrgPerson.
	cn := acct.RealName
	if cn == "" {
		cn = acct.Username
	}
	add.Attribute(d.opts.RealNameAttr, []string{cn})
	add.Attribute("sn", []string{cn})
	if acct.Email != "" {
		add.Attribute(d.opts.MailAttr, []string{acct.Email})
	}
	add.Attribute(d.opts.ConfirmedAttr, []string{boolAttr(acct.EmailConfirmed)})
	add.Attribute(d.opts.BlockedAttr, []string{boolAttr(acct.Blocked)})
	if len(acct.Groups) > 0 {
		add.Attribute(d.opts.GroupAttr, acct.Groups)
	}
	if acct.PasswordHash != "" {
		add.Attribute("userPassword", []string{acct.PasswordHash})
	}

	if err := conn.Add(add); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
			return "", ErrDuplicateUsername
		}
		return "", fmt.Errorf("failed to add LDAP entry: %w", err)
	}

	acct.ID = dn
	return dn, nil
}

// Save replaces the synchronized attributes on an existing entry.
func (d *LDAPDirectory) Save(ctx context.Context, acct *LocalAccount) error {
	conn, err := d.connect()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	mod := ldap.NewModifyRequest(acct.ID, nil)
	cn := acct.RealName
	if cn == "" {
		cn = acct.Username
	}
	mod.Replace(d.opts.RealNameAttr, []string{cn})
	if acct.Email != "" {
		mod.Replace(d.opts.MailAttr, []string{acct.Email})
	}
	mod.Replace(d.opts.ConfirmedAttr, []string{boolAttr(acct.EmailConfirmed)})
	mod.Replace(d.opts.BlockedAttr, []string{boolAttr(acct.Blocked)})
	mod.Replace(d.opts.GroupAttr, acct.Groups)

	if err := conn.Modify(mod); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to modify LDAP entry: %w", err)
	}
	return nil
}

func boolAttr(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

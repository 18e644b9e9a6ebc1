package reconcile

// AttributeBag holds the attributes of an identity assertion: attribute
// name to ordered values. An attribute present with zero values is treated
// as absent. Bags are not mutated by reconciliation.
type AttributeBag map[string][]string

// Values returns the values for an attribute, or nil when the attribute is
// absent or empty.
func (b AttributeBag) Values(name string) []string {
	if len(b[name]) == 0 {
		return nil
	}
	return b[name]
}

// First returns the first value for an attribute and whether the attribute
// is present with at least one value.
func (b AttributeBag) First(name string) (string, bool) {
	values := b.Values(name)
	if values == nil {
		return "", false
	}
	return values[0], true
}

// profile is the validated output of attribute extraction.
type profile struct {
	username string

	realName    string
	hasRealName bool

	mail    string
	hasMail bool
}

// single extracts a single-valued attribute. Multi-valued attributes are
// degraded gracefully: a warning is logged and the first value is used.
func (r *Reconciler) single(friendlyName, attrName string, bag AttributeBag) (string, bool) {
	values := bag.Values(attrName)
	if values == nil {
		return "", false
	}
	if len(values) > 1 {
		r.log.WithFields(map[string]interface{}{
			"attribute": attrName,
			"friendly":  friendlyName,
			"values":    len(values),
			"used":      values[0],
		}).Warn("multi-valued attribute, using only the first value")
	}
	return values[0], true
}

// extractProfile validates the attribute bag against the policy and returns
// the profile fields, or a rejection.
func (r *Reconciler) extractProfile(bag AttributeBag) (profile, Result, bool) {
	var p profile

	username, ok := r.single("Username", r.policy.UsernameAttr, bag)
	if !ok {
		return p, rejected(RejectMissingUsername,
			"username attribute %q has no value", r.policy.UsernameAttr), false
	}
	p.username = username

	if r.policy.RealNameAttr != "" {
		p.realName, p.hasRealName = r.single("Real name", r.policy.RealNameAttr, bag)
	}

	if r.policy.MailAttr != "" {
		p.mail, p.hasMail = r.single("E-mail", r.policy.MailAttr, bag)
		if !p.hasMail && r.policy.MailRequired {
			return p, rejected(RejectMissingMail,
				"mail attribute %q has no value", r.policy.MailAttr), false
		}
	}

	return p, Result{}, true
}

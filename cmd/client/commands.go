package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/keyvault/internal/client/sharing"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/secret"
)

func (a *app) signup(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, "signup <handle>"); err != nil {
		return err
	}
	sec, err := secret.Generate(args[0])
	if err != nil {
		return err
	}
	pw, err := a.password()
	if err != nil {
		return err
	}
	if err := a.handshake.Register(ctx, sec.IdentityHandle, pw, sec); err != nil {
		return err
	}
	sess, err := a.handshake.Login(ctx, pw, sec)
	if err != nil {
		return err
	}
	k, err := a.hierarchy.Bootstrap(ctx, sess, pw)
	if err != nil {
		return err
	}
	k.Zero()

	a.profile.SetSession(sess)
	fmt.Fprintf(a.out, "Account secret: %s\nKeep it with your password, it is needed to log in on another device.\n", sec)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	raw := a.profile.Secret
	if len(args) > 0 {
		raw = args[0]
	}
	if raw == "" {
		var err error
		if raw, err = a.prompt.Required("Account secret: "); err != nil {
			return err
		}
	}
	sec, err := secret.Parse(raw)
	if err != nil {
		return err
	}
	pw, err := a.password()
	if err != nil {
		return err
	}
	sess, err := a.handshake.Login(ctx, pw, sec)
	if err != nil {
		return err
	}
	a.profile.SetSession(sess)
	fmt.Fprintf(a.out, "Logged in as %s until %s\n", sess.Identity, sess.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (a *app) whoami() error {
	sess, err := a.session()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (session valid until %s)\n", sess.Identity, sess.ExpiresAt.Format(time.RFC3339))
	return nil
}

func (a *app) master(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, "master init|unlock"); err != nil {
		return err
	}
	sess, err := a.session()
	if err != nil {
		return err
	}
	passphrase := a.getenv("KEYVAULT_PASSPHRASE")
	if passphrase == "" {
		if passphrase, err = a.prompt.Required("Master passphrase: "); err != nil {
			return err
		}
	}

	var key []byte
	switch args[0] {
	case "init":
		key, err = a.hierarchy.CreateMasterKey(ctx, sess, passphrase)
	case "unlock":
		key, err = a.hierarchy.DeriveMasterKey(ctx, sess, passphrase)
	default:
		return fmt.Errorf("unknown master subcommand %q", args[0])
	}
	if err != nil {
		return err
	}
	crypto.Zero(key)
	fmt.Fprintln(a.out, "Master passphrase verified")
	return nil
}

func (a *app) connect(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, "connect <identity>"); err != nil {
		return err
	}
	sess, k, err := a.unlock(ctx)
	if err != nil {
		return err
	}
	defer k.Zero()

	conn, err := a.conns.Establish(ctx, sess.Identity, k.KEK, args[0])
	if err != nil {
		return err
	}
	if len(conn.TheirPublicKey) == 0 {
		fmt.Fprintf(a.out, "Waiting for %s to connect back\n", args[0])
		return nil
	}
	fmt.Fprintf(a.out, "Connected to %s\n", args[0])
	return nil
}

// readSlots reads name=value pairs as owned slots.
func (a *app) readSlots() ([]sharing.Slot, error) {
	fields, err := a.prompt.Fields("Enter name=value pairs, empty line to finish:")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.New("nothing to share")
	}
	slots := make([]sharing.Slot, 0, len(fields))
	for _, f := range fields {
		slots = append(slots, sharing.Slot{Name: f.Name, Value: []byte(f.Value), Origin: sharing.Owned{}})
	}
	return slots, nil
}

func (a *app) share(ctx context.Context, args []string) error {
	if err := wantArgs(args, 2, "share <item> <recipient>"); err != nil {
		return err
	}
	sess, err := a.session()
	if err != nil {
		return err
	}
	slots, err := a.readSlots()
	if err != nil {
		return err
	}
	s, err := a.sharer.ShareItem(ctx, sess, args[0], args[1], slots)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Shared %s with %s as %s (version %d)\n", s.ItemID, s.Recipient, s.ID, s.Version)
	return nil
}

func (a *app) update(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, "update <item>"); err != nil {
		return err
	}
	sess, err := a.session()
	if err != nil {
		return err
	}
	slots, err := a.readSlots()
	if err != nil {
		return err
	}
	shares, err := a.sharer.UpdateItem(ctx, sess, args[0], slots)
	if err != nil {
		return err
	}
	for _, s := range shares {
		fmt.Fprintf(a.out, "Re-keyed %s for %s (version %d)\n", s.ID, s.Recipient, s.Version)
	}
	return nil
}

func (a *app) incoming(ctx context.Context) error {
	sess, err := a.session()
	if err != nil {
		return err
	}
	shares, err := a.sharer.ListIncoming(ctx, sess)
	if err != nil {
		return err
	}
	if len(shares) == 0 {
		fmt.Fprintln(a.out, "No incoming shares")
		return nil
	}
	for _, s := range shares {
		fmt.Fprintf(a.out, "%s\t%s\tfrom %s\tversion %d\n", s.ID, s.ItemID, s.Owner, s.Version)
	}
	return nil
}

func (a *app) open(ctx context.Context, shareID string) (*sharing.Item, error) {
	sess, k, err := a.unlock(ctx)
	if err != nil {
		return nil, err
	}
	defer k.Zero()
	return a.sharer.Receive(ctx, sess, k.KEK, shareID)
}

func (a *app) receive(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, "receive <share>"); err != nil {
		return err
	}
	item, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s from %s (version %d)\n", item.ItemID, item.Owner, item.Version)
	for _, v := range item.Values {
		status := "verified"
		if !v.Verified {
			status = "unverified"
		}
		fmt.Fprintf(a.out, "  %s=%s [%s]\n", v.Name, v.Plaintext, status)
	}
	return nil
}

func (a *app) reshare(ctx context.Context, args []string) error {
	if err := wantArgs(args, 2, "reshare <share> <recipient>"); err != nil {
		return err
	}
	item, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}
	slots := make([]sharing.Slot, 0, len(item.Values))
	for _, v := range item.Values {
		slots = append(slots, v.Slot())
	}
	sess, err := a.session()
	if err != nil {
		return err
	}
	s, err := a.sharer.ShareItem(ctx, sess, item.ItemID, args[1], slots)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Shared %s with %s as %s (version %d)\n", s.ItemID, s.Recipient, s.ID, s.Version)
	return nil
}

func (a *app) delegate(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: delegate open|claim|share|reencrypt ...")
	}
	sub, rest := args[0], args[1:]
	sess, k, err := a.unlock(ctx)
	if err != nil {
		return err
	}
	defer k.Zero()

	switch sub {
	case "open":
		if err := wantArgs(rest, 2, "delegate open <delegate> <role>"); err != nil {
			return err
		}
		d, err := a.delegation.Open(ctx, sess, k.KEK, rest[0], rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Delegation %s opened for %s as %s\n", d.Token, rest[0], d.Role)
	case "claim":
		if err := wantArgs(rest, 1, "delegate claim <owner>"); err != nil {
			return err
		}
		d, err := a.delegation.Claim(ctx, sess, k.KEK, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Delegation %s claimed\n", d.Token)
	case "share":
		if err := wantArgs(rest, 1, "delegate share <token>"); err != nil {
			return err
		}
		if _, err := a.delegation.Share(ctx, sess, k.KEK, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Delegation %s shared\n", rest[0])
	case "reencrypt":
		if err := wantArgs(rest, 1, "delegate reencrypt <token>"); err != nil {
			return err
		}
		if _, err := a.delegation.Reencrypt(ctx, sess, k.KEK, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Delegation %s completed\n", rest[0])
	default:
		return fmt.Errorf("unknown delegate subcommand %q", sub)
	}
	return nil
}

func (a *app) child(ctx context.Context, args []string) error {
	if err := wantArgs(args, 1, "child <handle>"); err != nil {
		return err
	}
	sess, k, err := a.unlock(ctx)
	if err != nil {
		return err
	}
	defer k.Zero()

	ck, err := a.delegation.CreateChildUser(ctx, sess, k.KEK, args[0])
	if err != nil {
		return err
	}
	defer ck.Zero()
	fmt.Fprintf(a.out, "Created %s with DEK %s\n", args[0], ck.DEKID)
	return nil
}

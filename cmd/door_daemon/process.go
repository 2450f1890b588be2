package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/luhtfiimanal/door-daemon/config"
)

type credentials struct {
	uid, gid int
}

// lookupCredentials resolves a user and an optional group. Without a
// group the user's primary group is used.
func lookupCredentials(username, groupname string) (credentials, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return credentials{}, fmt.Errorf("unknown user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return credentials{}, fmt.Errorf("user %q: bad uid %q", username, u.Uid)
	}

	gidStr := u.Gid
	if groupname != "" {
		g, err := user.LookupGroup(groupname)
		if err != nil {
			return credentials{}, fmt.Errorf("unknown group %q: %w", groupname, err)
		}
		gidStr = g.Gid
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return credentials{}, fmt.Errorf("group %q: bad gid %q", groupname, gidStr)
	}
	return credentials{uid: uid, gid: gid}, nil
}

// setupProcess performs the one-shot start-up sequence: resolve the
// target user, open the pid file, chroot, drop privileges and finally
// write the pid. Names are resolved and the pid file opened before the
// chroot so both refer to the host filesystem.
func setupProcess(cfg config.ProcessConfig, log zerolog.Logger) error {
	var creds *credentials
	if cfg.Username != "" {
		c, err := lookupCredentials(cfg.Username, cfg.Groupname)
		if err != nil {
			return err
		}
		creds = &c
	}

	var pidFile *os.File
	if cfg.PIDFile != "" {
		f, err := os.OpenFile(cfg.PIDFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			log.Warn().Err(err).Msg("unable to open pid file")
		} else {
			pidFile = f
		}
	}

	if cfg.Chroot != "" {
		if err := unix.Chroot(cfg.Chroot); err != nil {
			return fmt.Errorf("chroot to %s: %w", cfg.Chroot, err)
		}
		if err := unix.Chdir("/"); err != nil {
			return fmt.Errorf("chdir after chroot: %w", err)
		}
		log.Info().Str("dir", cfg.Chroot).Msg("we are in chroot jail now")
	}

	if creds != nil {
		if err := dropPrivileges(*creds); err != nil {
			return err
		}
		log.Info().Int("uid", creds.uid).Int("gid", creds.gid).Msg("dropped privileges")
	}

	if pidFile != nil {
		_, err := fmt.Fprintf(pidFile, "%d", os.Getpid())
		if cerr := pidFile.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			log.Warn().Err(err).Msg("unable to write pid file")
		}
	}
	return nil
}

func dropPrivileges(c credentials) error {
	if err := unix.Setgroups([]int{c.gid}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setgid(c.gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", c.gid, err)
	}
	if err := unix.Setuid(c.uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", c.uid, err)
	}
	return nil
}

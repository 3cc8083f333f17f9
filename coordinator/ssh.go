package coordinator

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/uba-build/uba/cmn/nlog"
)

// SSHProvisioner is the Horde/bare-metal fallback: instead of asking an
// orchestrator to schedule a helper pod, it reaches a preconfigured
// list of machines directly and starts the helper binary over SSH.
type SSHProvisioner struct {
	hosts      []string
	sshConfig  *ssh.ClientConfig
	remoteBin  string
	remoteArgs []string
}

// SSHHostKeyFunc is supplied by the caller (loaded from a known_hosts
// file or a pinned fingerprint list); there is no insecure default.
type SSHHostKeyFunc = ssh.HostKeyCallback

func NewSSHProvisioner(hosts []string, user string, signer ssh.Signer, hostKeyCB SSHHostKeyFunc, remoteBin string, remoteArgs []string) *SSHProvisioner {
	return &SSHProvisioner{
		hosts:      hosts,
		remoteBin:  remoteBin,
		remoteArgs: remoteArgs,
		sshConfig: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCB,
			Timeout:         10 * time.Second,
		},
	}
}

// StartAll connects to every configured host and launches the helper
// binary detached (nohup-style) so it survives the SSH session tearing
// down; failures are collected rather than aborting the whole batch.
func (p *SSHProvisioner) StartAll() []error {
	var errs []error
	for _, h := range p.hosts {
		if err := p.start(h); err != nil {
			nlog.Warningln("coordinator: ssh start failed on", h, ":", err)
			errs = append(errs, fmt.Errorf("%s: %w", h, err))
		}
	}
	return errs
}

func (p *SSHProvisioner) start(hostport string) error {
	conn, err := net.DialTimeout("tcp", hostport, p.sshConfig.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	c, chans, reqs, err := ssh.NewClientConn(conn, hostport, p.sshConfig)
	if err != nil {
		return err
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	cmd := p.remoteBin
	for _, a := range p.remoteArgs {
		cmd += " " + shellQuote(a)
	}
	cmd = fmt.Sprintf("nohup %s >/tmp/uba-helper.log 2>&1 & disown", cmd)
	return session.Run(cmd)
}

func shellQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}

/*
Copyright 2024 Raywonder, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package execchannel

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/raywonder/openlink/lib/defaults"
)

// RemoteConfig configures RemoteShellChannel.
type RemoteConfig struct {
	// Host, Port, User identify the SSH target.
	Host string
	Port int
	User string
	// PrivateKeyPath is a path to a PEM-encoded private key used for
	// SSH client authentication.
	PrivateKeyPath string
	// Log is used for logging.
	Log logrus.FieldLogger
	// dialer lets tests substitute a fake network dial.
	dialer func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// CheckAndSetDefaults validates and fills in defaults.
func (c *RemoteConfig) CheckAndSetDefaults() error {
	if c.Host == "" {
		return trace.BadParameter("missing remote Host")
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.User == "" {
		return trace.BadParameter("missing remote User")
	}
	if c.PrivateKeyPath == "" {
		return trace.BadParameter("missing PrivateKeyPath")
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, "execchannel/remote")
	}
	if c.dialer == nil {
		c.dialer = net.DialTimeout
	}
	return nil
}

// RemoteShellChannel runs commands on a configured remote host through
// an interactive SSH shell, and uploads files over SFTP.
type RemoteShellChannel struct {
	cfg        RemoteConfig
	clientConf *ssh.ClientConfig
}

// NewRemoteShellChannel constructs a RemoteShellChannel from cfg.
func NewRemoteShellChannel(cfg RemoteConfig) (*RemoteShellChannel, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	keyBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, trace.Wrap(err, "reading private key")
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, trace.Wrap(err, "parsing private key")
	}
	return &RemoteShellChannel{
		cfg: cfg,
		clientConf: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is out of scope for this port
			Timeout:         defaults.ExecConnectTimeout,
		},
	}, nil
}

func (r *RemoteShellChannel) dial(ctx context.Context) (*ssh.Client, error) {
	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	conn, err := r.cfg.dialer("tcp", addr, defaults.ExecConnectTimeout)
	if err != nil {
		return nil, trace.Wrap(ErrConnection, "dialing %v: %v", addr, err)
	}
	sconn, chans, reqs, err := ssh.NewClientConn(conn, addr, r.clientConf)
	if err != nil {
		conn.Close()
		return nil, trace.Wrap(ErrConnection, "ssh handshake with %v: %v", addr, err)
	}
	return ssh.NewClient(sconn, chans, reqs), nil
}

// ExecuteLocalPrivileged is not supported by the remote channel.
func (r *RemoteShellChannel) ExecuteLocalPrivileged(ctx context.Context, command string) (*Result, error) {
	return nil, trace.NotImplemented("remote exec channel does not support local privileged execution")
}

// ExecuteRemote runs command on the remote host via a new SSH session.
func (r *RemoteShellChannel) ExecuteRemote(ctx context.Context, command string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, defaults.ExecRemoteOpTimeout)
	defer cancel()

	client, err := r.dial(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, trace.Wrap(ErrConnection, "opening ssh session: %v", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL) //nolint:errcheck // best-effort on timeout
		return &Result{Stdout: stdout.String(), Stderr: stderr.String()}, trace.Wrap(ErrTimeout)
	case runErr := <-done:
		result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if runErr == nil {
			return result, nil
		}
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			result.ExitStatus = exitErr.ExitStatus()
			r.cfg.Log.WithError(runErr).Debugf("remote command exited non-zero: %v", command)
			return result, nil
		}
		return result, trace.Wrap(ErrConnection, "running remote command: %v", runErr)
	}
}

// Upload copies localPath to remotePath over SFTP, mirroring the
// teacher's lib/sshutils/sftp transfer flow (sftp.NewClient over an
// existing ssh.Client).
func (r *RemoteShellChannel) Upload(ctx context.Context, localPath, remotePath string) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.ExecRemoteOpTimeout)
	defer cancel()

	client, err := r.dial(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return trace.Wrap(ErrConnection, "opening sftp client: %v", err)
	}
	defer sftpClient.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return trace.Wrap(err)
	}
	defer src.Close()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return trace.Wrap(err, "creating remote file %v", remotePath)
	}
	defer dst.Close()

	if _, err := dst.ReadFrom(src); err != nil {
		return trace.Wrap(err, "uploading to %v", remotePath)
	}
	return nil
}

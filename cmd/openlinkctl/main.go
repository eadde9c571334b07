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

// Command openlinkctl is a small operator CLI for driving a running
// openlinkd's control HTTP API from a terminal: list sessions, request
// and release domains, and issue operator kicks.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/raywonder/openlink/lib/utils"
)

func main() {
	app := utils.InitCLIParser("openlinkctl", "Operator CLI for the openlink signaling server and domain broker.")
	addr := app.Flag("addr", "Base URL of the control HTTP API.").Short('a').Default("http://127.0.0.1:3478").String()
	debug := app.Flag("debug", "Enable debug-level logging.").Bool()

	sessionsCmd := app.Command("sessions", "List active sessions.")

	domainsCmd := app.Command("domains", "List active domains.")

	requestCmd := app.Command("request-domain", "Request a new subdomain.")
	reqSubdomain := requestCmd.Arg("subdomain", "Subdomain label.").Required().String()
	reqBaseDomain := requestCmd.Arg("base-domain", "Base domain suffix.").Required().String()
	reqTargetHost := requestCmd.Flag("target-host", "Proxy target host.").Default("127.0.0.1").String()
	reqTargetPort := requestCmd.Flag("target-port", "Proxy target port.").Required().Int()
	reqDryRun := requestCmd.Flag("dry-run", "Print the composed request without sending it.").Bool()

	releaseCmd := app.Command("release-domain", "Release a previously requested domain.")
	releaseID := releaseCmd.Arg("domain-id", "Domain ID to release.").Required().String()

	kickCmd := app.Command("kick", "Remove a client from a session.")
	kickSession := kickCmd.Arg("session-id", "Session ID.").Required().String()
	kickClient := kickCmd.Arg("client-id", "Connection ID of the client to remove.").Required().String()
	kickReason := kickCmd.Flag("reason", "Reason recorded in the kick notification.").String()

	syncCmd := app.Command("sync-clients", "Poll /clients every 2 seconds and print each tick.")
	syncCount := syncCmd.Flag("count", "Number of ticks to print before exiting (0 = forever).").Default("5").Int()

	command, err := app.Parse(os.Args[1:])
	if err != nil {
		utils.FatalError(trace.Wrap(err))
	}

	level := logrus.InfoLevel
	if *debug {
		level = logrus.DebugLevel
	}
	utils.InitLogger(utils.LoggingForCLI, level)

	client := &apiClient{baseURL: strings.TrimRight(*addr, "/")}

	switch command {
	case sessionsCmd.FullCommand():
		err = client.printJSON("GET", "/sessions", nil)
	case domainsCmd.FullCommand():
		err = client.printJSON("GET", "/domains", nil)
	case requestCmd.FullCommand():
		body := map[string]interface{}{
			"subdomain":  *reqSubdomain,
			"baseDomain": *reqBaseDomain,
			"targetHost": *reqTargetHost,
			"targetPort": *reqTargetPort,
		}
		if *reqDryRun {
			err = printDryRun("POST", "/domains/request", body)
		} else {
			err = client.printJSON("POST", "/domains/request", body)
		}
	case releaseCmd.FullCommand():
		err = client.printJSON("DELETE", "/domains/"+*releaseID, nil)
	case kickCmd.FullCommand():
		body := map[string]interface{}{"clientId": *kickClient, "reason": *kickReason}
		err = client.printJSON("POST", "/sessions/"+*kickSession+"/kick", body)
	case syncCmd.FullCommand():
		err = client.streamClients(*syncCount)
	}
	if err != nil {
		utils.FatalError(err)
	}
}

type apiClient struct {
	baseURL string
}

func (c *apiClient) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "calling %v %v", method, path)
	}
	return resp, nil
}

func (c *apiClient) printJSON(method, path string, body interface{}) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return trace.Wrap(err)
	}
	if resp.StatusCode >= 300 {
		return trace.Errorf("%v %v returned %v: %s", method, path, resp.StatusCode, data)
	}
	if len(data) == 0 {
		fmt.Println("ok")
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// streamClients polls /clients with a plain GET every 2 seconds and
// prints count ticks; it does not read the /clients/monitor event
// stream, since the CLI only needs a periodic snapshot, not live updates.
func (c *apiClient) streamClients(count int) error {
	bar := progressbar.Default(int64(count), "polling /clients")
	for i := 0; count == 0 || i < count; i++ {
		resp, err := c.do("GET", "/clients", nil)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Println(string(data))
		bar.Add(1)
		time.Sleep(2 * time.Second)
	}
	return nil
}

// printDryRun echoes the composed request body without sending it,
// splitting it through shlex the way a shell would so the operator can
// see exactly what an equivalent curl invocation would quote. It never
// re-interprets the result as a command to execute.
func printDryRun(method, path string, body map[string]interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return trace.Wrap(err)
	}
	curl := fmt.Sprintf("curl -X %s -H 'Content-Type: application/json' -d %s <addr>%s", method, string(data), path)
	fields, err := shlex.Split(curl)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Println(strings.Join(fields, " "))
	return nil
}

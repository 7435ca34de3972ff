package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"naperf/internal/zapi"
)

const queryTimeout = 40 * time.Second

// runQuery executes one standalone device action and prints the result.
// Params: ctx bounds all API calls; opts parsed command line; args action
// and action arguments.
// Returns: process exit code.
func runQuery(ctx context.Context, opts options, args []string) int {
	var action string
	var actionArgs []string
	if len(args) > 0 {
		action, actionArgs = args[0], args[1:]
		switch action {
		case "objects":
		case "info", "instances", "metrics":
			if len(actionArgs) == 0 {
				fmt.Fprintf(os.Stderr, "error: %s requires an object name\n", action)
				return exitCodeUsage
			}
		default:
			fmt.Fprintf(os.Stderr, "error: unknown action %q\n", action)
			return exitCodeUsage
		}
	}

	session, err := zapi.Connect(ctx, zapi.Config{
		Address:     opts.Server,
		User:        opts.User,
		Password:    opts.Password,
		Timeout:     queryTimeout,
		InsecureTLS: opts.Insecure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect %s: %v\n", opts.Server, err)
		return exitCodeFailure
	}

	fmt.Printf("Server=%s, version=%s, date=%s\n", opts.Server, session.Version(), time.Now().Format(time.RFC3339))
	if action == "" {
		return 0
	}

	var runErr error
	switch action {
	case "objects":
		runErr = queryObjects(ctx, session)
	case "info":
		runErr = queryInfo(ctx, session, actionArgs[0])
	case "instances":
		runErr = queryInstances(ctx, session, actionArgs[0], tailArg(actionArgs))
	case "metrics":
		runErr = queryMetrics(ctx, session, actionArgs[0], tailArg(actionArgs))
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", action, runErr)
		return exitCodeFailure
	}
	return 0
}

// queryObjects prints every performance object the device exposes.
// Params: ctx bounds the call; session connected device.
// Returns: API error.
func queryObjects(ctx context.Context, session *zapi.Session) error {
	objects, err := session.Objects(ctx)
	if err != nil {
		return err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	for _, object := range objects {
		fmt.Printf("%-40s [%s] %s\n", object.Name, object.PrivilegeLevel, object.Description)
	}
	return nil
}

// queryInfo prints counter metadata for one object.
// Params: ctx bounds the call; session connected device; object name.
// Returns: API error.
func queryInfo(ctx context.Context, session *zapi.Session, object string) error {
	counters, err := session.Counters(ctx, object)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		counter := counters[name]
		fmt.Printf("%s\n", name)
		fmt.Printf("  unit=%s properties=%s privilege=%s\n", counter.Unit, counter.Properties, counter.PrivilegeLevel)
		if counter.BaseCounter != "" {
			fmt.Printf("  base=%s\n", counter.BaseCounter)
		}
		if len(counter.Labels) > 0 {
			fmt.Printf("  labels=%s\n", strings.Join(counter.Labels, ","))
		}
		if counter.Description != "" {
			fmt.Printf("  %s\n", counter.Description)
		}
	}
	return nil
}

// tailArg returns the optional second action argument.
// Params: args action arguments.
// Returns: second argument or empty string.
func tailArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

// queryInstances prints every instance id of one object.
// Params: ctx bounds the call; session connected device; object name;
// filter optional device-side instance filter.
// Returns: API error.
func queryInstances(ctx context.Context, session *zapi.Session, object, filter string) error {
	instances, err := session.ListInstances(ctx, object, filter)
	if err != nil {
		return err
	}

	sort.Strings(instances)
	for _, instance := range instances {
		fmt.Println(instance)
	}
	return nil
}

// queryMetrics prints current raw values of every counter for one object.
// Params: ctx bounds the calls; session connected device; object name;
// instance optional instance id restricting the fetch.
// Returns: API error.
func queryMetrics(ctx context.Context, session *zapi.Session, object, instance string) error {
	available, err := session.Counters(ctx, object)
	if err != nil {
		return err
	}
	counters := make([]string, 0, len(available))
	for name := range available {
		counters = append(counters, name)
	}
	sort.Strings(counters)

	instances, err := session.ListInstances(ctx, object, "")
	if err != nil {
		return err
	}
	if instance != "" {
		found := false
		for _, id := range instances {
			if id == instance {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("instance %q not found", instance)
		}
		instances = []string{instance}
	}

	fetch, err := session.FetchValues(ctx, object, instances, counters)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(fetch.Values))
	for id := range fetch.Values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fmt.Printf("%s\n", id)
		data := fetch.Values[id]
		for _, counter := range counters {
			if value, ok := data[counter]; ok {
				fmt.Printf("  %s=%s\n", counter, value)
			}
		}
	}
	return nil
}

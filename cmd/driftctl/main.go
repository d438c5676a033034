/*
 * Copyright (c) 2026 driftdb Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package main is driftctl, an interactive shell for driftdb: connect
with a scoped API key and issue insert/query/delete/kv/keys commands
against a running server through pkg/client.
*/
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"driftdb/internal/keys"
	"driftdb/pkg/cli"
	"driftdb/pkg/client"

	"github.com/chzyer/readline"
	"github.com/spf13/pflag"
)

var commandWords = []string{
	"insert", "query", "list", "delete", "delete-doc", "delete-collection",
	"delete-range", "set", "get", "get-all", "del", "keys",
	"key-add", "key-remove", "help", "exit", "quit",
}

func getHistoryFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".driftctl_history")
}

func createCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandWords))
	for _, word := range commandWords {
		items = append(items, readline.PcItem(word))
	}
	return readline.NewPrefixCompleter(items...)
}

func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}

func createReadlineInstance() (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:              cli.Highlight("driftctl") + cli.Dimmed("> "),
		HistoryFile:         getHistoryFilePath(),
		AutoComplete:        createCompleter(),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
}

func main() {
	fs := pflag.NewFlagSet("driftctl", pflag.ContinueOnError)
	url := fs.StringP("url", "u", "ws://127.0.0.1:7070", "driftdb server URL")
	apiKey := fs.StringP("api-key", "k", "", "API key to authenticate with")
	execute := fs.StringP("execute", "e", "", "run a single command and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "driftctl: %v\n", err)
		os.Exit(1)
	}

	if *apiKey == "" {
		if env := os.Getenv("DRIFTDB_API_KEY"); env != "" {
			*apiKey = env
		} else {
			fmt.Fprintln(os.Stderr, "driftctl: --api-key (or DRIFTDB_API_KEY) is required")
			os.Exit(1)
		}
	}

	c := client.New(*url, *apiKey)
	if err := c.Connect(); err != nil {
		cli.PrintError(fmt.Sprintf("failed to connect to %s: %v", *url, err))
		os.Exit(1)
	}
	defer c.Close()

	cli.PrintSuccess(fmt.Sprintf("connected to %s", *url))

	if *execute != "" {
		runCommand(c, *execute)
		return
	}

	runREPL(c)
}

func runREPL(c *client.Client) {
	rl, err := createReadlineInstance()
	if err != nil {
		cli.PrintWarning(fmt.Sprintf("advanced line editing unavailable: %v", err))
		runSimpleREPL(c)
		return
	}
	defer rl.Close()

	fmt.Println(cli.Dimmed("Type 'help' for commands, 'exit' to quit."))

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Println()
				cli.PrintInfo("goodbye")
				return
			}
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" || input == "\\q" {
			cli.PrintInfo("goodbye")
			return
		}
		runCommand(c, input)
	}
}

// runSimpleREPL is the fallback path when the terminal doesn't support
// readline (e.g. piped stdin, dumb terminal).
func runSimpleREPL(c *client.Client) {
	scannerInput := os.Stdin
	buf := make([]byte, 0, 4096)
	reader := &lineReader{f: scannerInput, buf: buf}
	for {
		fmt.Print("driftctl> ")
		line, err := reader.readLine()
		if err != nil {
			return
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}
		runCommand(c, input)
	}
}

type lineReader struct {
	f   *os.File
	buf []byte
}

func (l *lineReader) readLine() (string, error) {
	var sb strings.Builder
	one := make([]byte, 1)
	for {
		n, err := l.f.Read(one)
		if n > 0 {
			if one[0] == '\n' {
				return sb.String(), nil
			}
			sb.WriteByte(one[0])
		}
		if err != nil {
			if sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
	}
}

func runCommand(c *client.Client, input string) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	var err error
	switch cmd {
	case "help":
		printHelp()
		return
	case "insert":
		err = cmdInsert(c, args)
	case "query":
		err = cmdQuery(c, args)
	case "list":
		err = cmdList(c)
	case "delete":
		err = cmdDeleteRecord(c, args)
	case "delete-doc":
		err = cmdDeleteDoc(c, args)
	case "delete-collection":
		err = cmdDeleteCollection(c, args)
	case "delete-range":
		err = cmdDeleteRange(c, args)
	case "set":
		err = cmdSet(c, args)
	case "get":
		err = cmdGet(c, args)
	case "get-all":
		err = cmdGetAll(c, args)
	case "del":
		err = cmdDel(c, args)
	case "keys":
		err = cmdKeys(c, args)
	case "key-add":
		err = cmdKeyAdd(c, args)
	case "key-remove":
		err = cmdKeyRemove(c, args)
	default:
		cli.PrintWarning(fmt.Sprintf("unknown command %q, try 'help'", cmd))
		return
	}

	if err != nil {
		cli.PrintError(err.Error())
	}
}

func printHelp() {
	fmt.Println(cli.Highlight("Commands"))
	fmt.Println(cli.Separator(40))
	fmt.Println("  insert <col> <doc> <ts> <data>")
	fmt.Println("  query <col> <ts> [doc]")
	fmt.Println("  list")
	fmt.Println("  delete <col> <doc> <ts>")
	fmt.Println("  delete-doc <col|-> <doc>")
	fmt.Println("  delete-collection <col>")
	fmt.Println("  delete-range <col> <doc> <fromTS> <toTS>")
	fmt.Println("  set <col> <key> <value>")
	fmt.Println("  get <col> <key>")
	fmt.Println("  get-all <col> [filter]")
	fmt.Println("  del <col> <key>")
	fmt.Println("  keys <col>")
	fmt.Println("  key-add <key> <readonly|read_write|read_write_delete>")
	fmt.Println("  key-remove <key>")
	fmt.Println("  exit")
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func cmdInsert(c *client.Client, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: insert <col> <doc> <ts> <data>")
	}
	ts, err := parseInt64(args[2])
	if err != nil {
		return fmt.Errorf("invalid ts: %w", err)
	}
	data := strings.Join(args[3:], " ")
	if err := c.Insert(args[0], args[1], ts, data); err != nil {
		return err
	}
	cli.PrintSuccess("inserted")
	return nil
}

func cmdQuery(c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: query <col> <ts> [doc]")
	}
	ts, err := parseInt64(args[1])
	if err != nil {
		return fmt.Errorf("invalid ts: %w", err)
	}
	doc := ""
	if len(args) >= 3 {
		doc = args[2]
	}
	records, err := c.QuerySessions(args[0], ts, doc, 0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		cli.PrintInfo("no records")
		return nil
	}
	for name, rec := range records {
		fmt.Printf("  %s\t%d\t%s\n", name, rec.TS, rec.Data)
	}
	return nil
}

func cmdList(c *client.Client) error {
	cols, err := c.ListCollections()
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		cli.PrintInfo("no collections")
		return nil
	}
	for _, name := range cols {
		fmt.Println("  " + name)
	}
	return nil
}

func cmdDeleteRecord(c *client.Client, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: delete <col> <doc> <ts>")
	}
	ts, err := parseInt64(args[2])
	if err != nil {
		return fmt.Errorf("invalid ts: %w", err)
	}
	if err := c.DeleteRecord(args[0], args[1], ts); err != nil {
		return err
	}
	cli.PrintSuccess("deleted")
	return nil
}

func cmdDeleteDoc(c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: delete-doc <col|-> <doc>")
	}
	col := args[0]
	if col == "-" {
		col = ""
	}
	if err := c.DeleteDocument(col, args[1]); err != nil {
		return err
	}
	cli.PrintSuccess("deleted")
	return nil
}

func cmdDeleteCollection(c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: delete-collection <col>")
	}
	if err := c.DeleteCollection(args[0]); err != nil {
		return err
	}
	cli.PrintSuccess("deleted")
	return nil
}

func cmdDeleteRange(c *client.Client, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: delete-range <col> <doc> <fromTS> <toTS>")
	}
	from, err := parseInt64(args[2])
	if err != nil {
		return fmt.Errorf("invalid fromTS: %w", err)
	}
	to, err := parseInt64(args[3])
	if err != nil {
		return fmt.Errorf("invalid toTS: %w", err)
	}
	if err := c.DeleteRange(args[0], args[1], from, to); err != nil {
		return err
	}
	cli.PrintSuccess("deleted")
	return nil
}

func cmdSet(c *client.Client, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: set <col> <key> <value>")
	}
	value := strings.Join(args[2:], " ")
	if err := c.SetValue(args[0], args[1], value); err != nil {
		return err
	}
	cli.PrintSuccess("set")
	return nil
}

func cmdGet(c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: get <col> <key>")
	}
	value, err := c.GetValue(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func cmdGetAll(c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: get-all <col> [filter]")
	}
	filter := ""
	if len(args) >= 2 {
		filter = args[1]
	}
	values, err := c.GetValues(args[0], filter)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		cli.PrintInfo("no values")
		return nil
	}
	for k, v := range values {
		fmt.Printf("  %s = %s\n", k, v)
	}
	return nil
}

func cmdDel(c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: del <col> <key>")
	}
	if err := c.RemoveValue(args[0], args[1]); err != nil {
		return err
	}
	cli.PrintSuccess("removed")
	return nil
}

func cmdKeys(c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: keys <col>")
	}
	names, err := c.GetKeys(args[0])
	if err != nil {
		return err
	}
	if len(names) == 0 {
		cli.PrintInfo("no keys")
		return nil
	}
	for _, name := range names {
		fmt.Println("  " + name)
	}
	return nil
}

func cmdKeyAdd(c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: key-add <key> <readonly|read_write|read_write_delete>")
	}
	scope := keys.Scope(args[1])
	if scope != keys.ReadOnly && scope != keys.ReadWrite && scope != keys.ReadWriteDelete {
		return fmt.Errorf("invalid scope %q", args[1])
	}
	if err := c.AddAPIKey(args[0], scope); err != nil {
		return err
	}
	cli.PrintSuccess("key added")
	return nil
}

func cmdKeyRemove(c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: key-remove <key>")
	}
	if err := c.RemoveAPIKey(args[0]); err != nil {
		return err
	}
	cli.PrintSuccess("key removed")
	return nil
}

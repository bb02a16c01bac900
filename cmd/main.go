package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ergochat/readline"
	"github.com/google/uuid"

	"github.com/hboutemy/jackrabbit"
	"github.com/hboutemy/jackrabbit/storage"
	"github.com/hboutemy/jackrabbit/version"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("open"),
	readline.PcItem("login"),
	readline.PcItem("logout"),
	readline.PcItem("workspaces"),
	readline.PcItem("create-workspace"),
	readline.PcItem("ls"),
	readline.PcItem("mk"),
	readline.PcItem("set"),
	readline.PcItem("unset"),
	readline.PcItem("rm"),
	readline.PcItem("find"),
	readline.PcItem("lock"),
	readline.PcItem("unlock"),
	readline.PcItem("checkin"),
	readline.PcItem("versions"),
	readline.PcItem("namespaces"),
	readline.PcItem("namespace"),
	readline.PcItem("stats"),
	readline.PcItem("descriptors"),
	readline.PcItem("close"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

const usage = `open <home>                  open a repository
login [ws] [user pass]       start a session (default workspace if omitted)
logout                       end the session
workspaces                   list workspaces and their states
create-workspace <name>      register a new workspace
ls [id]                      show a node (the root if omitted)
mk <parent> <name> [type]    create a child node
set <id> <name> <value>      set a property
unset <id> <name>            remove a property
rm <id>                      remove a node and its subtree
find <text>                  full-text search
lock <id> [deep] [session]   lock a node
unlock <id>                  unlock a node
checkin <id>                 snapshot a node as a new version
versions <id>                list a node's versions
namespaces                   list registered namespaces
namespace <prefix> <uri>     register a namespace
stats                        node/property counters
descriptors                  repository descriptor table
close                        close the repository
exit                         close and quit`

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad id %q", arg)
	}
	return id, nil
}

func showNode(sess *jackrabbit.Session, id uuid.UUID) error {
	st, err := sess.Node(id)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\n", st.ID, st.Type)
	props := make([]string, 0, len(st.Props))
	for name := range st.Props {
		props = append(props, name)
	}
	sort.Strings(props)
	for _, name := range props {
		fmt.Printf("  %s = %s\n", name, st.Props[name])
	}
	for _, ce := range st.Children {
		fmt.Printf("  %s/  %s\n", ce.Name, ce.ID)
	}
	return nil
}

func main() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "jcr> ",
		HistoryFile:     "/tmp/jackrabbit.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	var repo *jackrabbit.Repository
	var sess *jackrabbit.Session

	openRepo := func(home string) error {
		if repo != nil {
			return fmt.Errorf("already open, close first")
		}
		opts, err := jackrabbit.LoadConfig(home)
		if err != nil {
			return err
		}
		r, err := jackrabbit.Open(home, opts)
		if err != nil {
			return err
		}
		repo = r
		return nil
	}
	closeRepo := func() error {
		if repo == nil {
			return nil
		}
		err := repo.Close()
		repo = nil
		sess = nil
		return err
	}

	if len(os.Args) > 1 {
		if err := openRepo(os.Args[1]); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	}

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args := strings.Split(line, " ")
		cmd := args[0]
		args = args[1:]
		err = nil

		if repo == nil && cmd != "open" && cmd != "help" && cmd != "exit" && cmd != "quit" {
			_, _ = fmt.Fprintln(os.Stderr, "no repository open")
			continue
		}
		needSession := map[string]bool{
			"ls": true, "mk": true, "set": true, "unset": true, "rm": true,
			"find": true, "lock": true, "unlock": true, "checkin": true,
			"versions": true, "logout": true,
		}
		if needSession[cmd] && sess == nil {
			_, _ = fmt.Fprintln(os.Stderr, "not logged in")
			continue
		}

		switch cmd {
		case "help":
			fmt.Println(usage)
		case "open":
			if len(args) != 1 {
				err = fmt.Errorf("usage: open <home>")
				break
			}
			err = openRepo(args[0])
		case "login":
			ws := ""
			creds := jackrabbit.Anonymous()
			if len(args) > 0 {
				ws = args[0]
			}
			if len(args) == 3 {
				creds = jackrabbit.Credentials{User: args[1], Password: args[2]}
			}
			var s *jackrabbit.Session
			s, err = repo.Login(creds, ws)
			if err == nil {
				sess = s
				fmt.Printf("session %s  user %s  workspace %s\n", s.ID(), s.User(), s.Workspace())
			}
		case "logout":
			err = sess.Logout()
			sess = nil
		case "workspaces":
			states := repo.WorkspaceStates()
			for _, name := range repo.WorkspaceNames() {
				fmt.Printf("%s\t%s\n", name, states[name])
			}
		case "create-workspace":
			if len(args) < 1 {
				err = fmt.Errorf("usage: create-workspace <name> [driver]")
				break
			}
			driver := ""
			if len(args) > 1 {
				driver = args[1]
			}
			err = repo.CreateWorkspace(args[0], driver)
		case "ls":
			id := jackrabbit.RootNodeID
			if len(args) > 0 {
				if id, err = parseID(args[0]); err != nil {
					break
				}
			}
			err = showNode(sess, id)
		case "mk":
			if len(args) < 2 {
				err = fmt.Errorf("usage: mk <parent> <name> [type]")
				break
			}
			var parent uuid.UUID
			if parent, err = parseID(args[0]); err != nil {
				break
			}
			typ := "nt:unstructured"
			if len(args) > 2 {
				typ = args[2]
			}
			var st *storage.NodeState
			st, err = sess.AddNode(parent, args[1], typ)
			if err == nil {
				fmt.Println(st.ID)
			}
		case "set":
			if len(args) != 3 {
				err = fmt.Errorf("usage: set <id> <name> <value>")
				break
			}
			var id uuid.UUID
			if id, err = parseID(args[0]); err != nil {
				break
			}
			err = sess.SetProperty(id, args[1], args[2])
		case "unset":
			if len(args) != 2 {
				err = fmt.Errorf("usage: unset <id> <name>")
				break
			}
			var id uuid.UUID
			if id, err = parseID(args[0]); err != nil {
				break
			}
			err = sess.RemoveProperty(id, args[1])
		case "rm":
			if len(args) != 1 {
				err = fmt.Errorf("usage: rm <id>")
				break
			}
			var id uuid.UUID
			if id, err = parseID(args[0]); err != nil {
				break
			}
			err = sess.RemoveNode(id)
		case "find":
			if len(args) < 1 {
				err = fmt.Errorf("usage: find <text>")
				break
			}
			var hits []uuid.UUID
			hits, err = sess.Search(strings.Join(args, " "))
			for _, id := range hits {
				fmt.Println(id)
			}
		case "lock":
			if len(args) < 1 {
				err = fmt.Errorf("usage: lock <id> [deep] [session]")
				break
			}
			var id uuid.UUID
			if id, err = parseID(args[0]); err != nil {
				break
			}
			deep, scoped := false, false
			for _, a := range args[1:] {
				switch a {
				case "deep":
					deep = true
				case "session":
					scoped = true
				}
			}
			err = sess.Lock(id, deep, scoped)
		case "unlock":
			if len(args) != 1 {
				err = fmt.Errorf("usage: unlock <id>")
				break
			}
			var id uuid.UUID
			if id, err = parseID(args[0]); err != nil {
				break
			}
			err = sess.Unlock(id)
		case "checkin":
			if len(args) != 1 {
				err = fmt.Errorf("usage: checkin <id>")
				break
			}
			var id uuid.UUID
			if id, err = parseID(args[0]); err != nil {
				break
			}
			var v version.Version
			v, err = sess.Checkin(id)
			if err == nil {
				fmt.Printf("%s  %s\n", v.Name, v.ID)
			}
		case "versions":
			if len(args) != 1 {
				err = fmt.Errorf("usage: versions <id>")
				break
			}
			var id uuid.UUID
			if id, err = parseID(args[0]); err != nil {
				break
			}
			var vs []version.Version
			vs, err = sess.VersionHistory(id)
			for _, v := range vs {
				fmt.Printf("%s\t%s\t%s\n", v.Name, v.ID, v.Created.Format("2006-01-02 15:04:05"))
			}
		case "namespaces":
			for _, prefix := range repo.Namespaces().Prefixes() {
				uri, _ := repo.Namespaces().URI(prefix)
				fmt.Printf("%s\t%s\n", prefix, uri)
			}
		case "namespace":
			if len(args) != 2 {
				err = fmt.Errorf("usage: namespace <prefix> <uri>")
				break
			}
			err = repo.Namespaces().Register(args[0], args[1])
		case "stats":
			nodes, props := repo.Stats()
			fmt.Printf("nodes %d\nproperties %d\n", nodes, props)
		case "descriptors":
			desc := repo.Descriptors()
			keys := make([]string, 0, len(desc))
			for k := range desc {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %s\n", k, desc[k])
			}
		case "close":
			err = closeRepo()
		case "exit", "quit":
			ex := 0
			if err = closeRepo(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err.Error())
				ex = -1
			}
			os.Exit(ex)
		default:
			_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}

		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error executing %s: %s\n", cmd, err.Error())
		}
	}
	_ = closeRepo()
}

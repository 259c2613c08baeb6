// Command aept is the CLI front end for the aept package manager.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.yaml.in/yaml/v3"

	"github.com/aept-project/aept/aept"
	"github.com/aept-project/aept/internal/aeptlog"
	"github.com/aept-project/aept/internal/config"
	"github.com/aept-project/aept/internal/github"
)

// arrayFlags collects a repeated -flag value into a slice.
type arrayFlags []string

func (a *arrayFlags) String() string { return strings.Join(*a, ", ") }
func (a *arrayFlags) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func main() {
	globalFlags := flag.NewFlagSet("aept", flag.ExitOnError)
	confPath := globalFlags.String("c", "/etc/aept/aept.conf", "configuration file")
	offlineRoot := globalFlags.String("o", "", "offline root directory")
	verbose := globalFlags.Bool("v", false, "verbose logging")
	globalFlags.Usage = printUsage

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// flag.Parse stops at the first non-flag argument, so global flags
	// (-c, -o, -v) may precede the subcommand; what remains is the
	// subcommand and its own args.
	globalFlags.Parse(os.Args[1:])
	remaining := globalFlags.Args()
	if len(remaining) == 0 {
		printUsage()
		os.Exit(1)
	}
	cmd := remaining[0]
	rest := remaining[1:]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	cfg, err := config.Load(*confPath, func(msg string) { log.Printf("warning: %s", msg) })
	if err != nil {
		log.Fatalf("aept: load config: %v", err)
	}
	if *offlineRoot == "" {
		// Historical fallback; -o takes precedence.
		*offlineRoot = os.Getenv("OFFLINE_ROOT")
	}
	if *offlineRoot != "" {
		cfg.OfflineRoot = *offlineRoot
	}
	cfg.ApplyOfflineRoot()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("aept: %v", err)
	}

	level := aeptlog.LevelWarn
	if *verbose {
		level = aeptlog.LevelDebug
	}
	logger := aeptlog.New(os.Stderr, level)

	actx, err := aept.New(cfg, aept.WithLogger(logger), aept.WithConfirm(confirmPrompt))
	if err != nil {
		log.Fatalf("aept: %v", err)
	}
	defer actx.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, actx, cmd, rest); err != nil {
		log.Printf("aept: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: aept [-c conf] [-o offline-root] [-v] <command> [args]

commands:
  update                    refresh package indices
  install <pkgs>            install packages
  remove <pkgs>             remove packages
  autoremove                remove unreferenced auto-installed packages
  upgrade [pkgs]            upgrade packages, or all if none named
  list [pattern]            list installed packages
  show <pkg>                show a package's status record
  mark {auto|manual} <pkgs> change a package's auto-installed bit
  pin <name>=<version>...   pin packages at a version
  unpin <pkgs>              remove a pin
  clean                     empty the package cache
  files <pkg>               list files owned by a package
  owns <path>                show which package owns a path
  print-architecture        print the native architecture
  source add-github <owner>/<repo>
                            harvest .ipk/.deb release assets into a local
                            mirror directory usable as a src`)
}

func confirmPrompt(summary aept.TransactionSummary) bool {
	fmt.Printf("%d to install, %d to upgrade, %d to remove. Proceed? [y/N] ", summary.Install, summary.Upgrade, summary.Remove)
	var answer string
	fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func dispatch(ctx context.Context, actx *aept.Context, cmd string, args []string) error {
	switch cmd {
	case "update":
		return actx.Update(ctx)
	case "install":
		return runInstall(ctx, actx, args, false)
	case "upgrade":
		return runInstall(ctx, actx, args, true)
	case "remove":
		return runRemove(ctx, actx, args)
	case "autoremove":
		fs := flag.NewFlagSet("autoremove", flag.ExitOnError)
		force := fs.Bool("f", false, "force-depends")
		fs.BoolVar(force, "force-depends", false, "force-depends")
		fs.Parse(args)
		removed, err := actx.Autoremove(ctx, *force)
		if err != nil {
			return err
		}
		for _, n := range removed {
			fmt.Println(n)
		}
		return nil
	case "list":
		pattern := ""
		for _, a := range args {
			if !strings.HasPrefix(a, "--") {
				pattern = a
				break
			}
		}
		return printYAMLOrText(args, actx.List(pattern))
	case "show":
		name := ""
		format := "text"
		for _, a := range args {
			if strings.HasPrefix(a, "--format=") {
				format = strings.TrimPrefix(a, "--format=")
				continue
			}
			name = a
		}
		if name == "" {
			return fmt.Errorf("usage: aept show [--format=yaml] <pkg>")
		}
		rec := actx.Show(name)
		if rec == nil {
			return fmt.Errorf("%s: not installed", name)
		}
		if format == "yaml" {
			fields := make(map[string]string, len(rec.Keys()))
			for _, k := range rec.Keys() {
				fields[k] = rec.Get(k)
			}
			out, err := yaml.Marshal(fields)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		}
		fmt.Println(rec.String())
		return nil
	case "mark":
		return runMark(actx, args)
	case "pin":
		return runPin(actx, args)
	case "unpin":
		for _, name := range args {
			if err := actx.Unpin(name); err != nil {
				return err
			}
		}
		return nil
	case "clean":
		return actx.Clean()
	case "files":
		if len(args) != 1 {
			return fmt.Errorf("usage: aept files <pkg>")
		}
		entries, err := actx.Files(args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Println(e.Path)
		}
		return nil
	case "owns":
		if len(args) != 1 {
			return fmt.Errorf("usage: aept owns <path>")
		}
		name, err := actx.Owns(args[0])
		if err != nil {
			return err
		}
		if name == "" {
			return fmt.Errorf("%s: not owned by any installed package", args[0])
		}
		fmt.Println(name)
		return nil
	case "print-architecture":
		fmt.Println(actx.PrintArchitecture())
		return nil
	case "source":
		return runSource(ctx, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runInstall(ctx context.Context, actx *aept.Context, args []string, upgrade bool) error {
	name := "install"
	if upgrade {
		name = "upgrade"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	forceDepends := fs.Bool("force-depends", false, "force-depends")
	fs.BoolVar(forceDepends, "f", false, "force-depends")
	downloadOnly := fs.Bool("download-only", false, "download-only")
	fs.BoolVar(downloadOnly, "d", false, "download-only")
	noAction := fs.Bool("noaction", false, "noaction")
	fs.BoolVar(noAction, "n", false, "noaction")
	allowDowngrade := fs.Bool("allow-downgrade", false, "allow-downgrade")
	reinstall := fs.Bool("reinstall", false, "reinstall")
	noCache := fs.Bool("no-cache", false, "no-cache")
	forceConfnew := fs.Bool("force-confnew", false, "force-confnew")
	forceConfold := fs.Bool("force-confold", false, "force-confold")
	nonInteractive := fs.Bool("non-interactive", false, "never prompt; defer conffile conflicts")
	fs.Parse(args)

	var names, localPaths []string
	for _, a := range fs.Args() {
		if strings.HasSuffix(a, ".ipk") {
			localPaths = append(localPaths, a)
		} else {
			names = append(names, a)
		}
	}

	opts := aept.InstallOptions{
		Names:          names,
		LocalPaths:     localPaths,
		ForceDepends:   *forceDepends,
		NoAction:       *noAction,
		DownloadOnly:   *downloadOnly,
		NoCache:        *noCache,
		AllowDowngrade: *allowDowngrade,
		ForceConfnew:   *forceConfnew,
		ForceConfold:   *forceConfold,
		Reinstall:      *reinstall,
		NonInteractive: *nonInteractive,
	}

	var steps []aept.Step
	var err error
	if upgrade {
		steps, err = actx.Upgrade(ctx, opts)
	} else {
		steps, err = actx.Install(ctx, opts)
	}
	if err != nil {
		return err
	}
	printSteps(steps)
	return nil
}

func runRemove(ctx context.Context, actx *aept.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	purge := fs.Bool("purge", false, "purge")
	forceDepends := fs.Bool("force-depends", false, "force-depends")
	fs.BoolVar(forceDepends, "f", false, "force-depends")
	noAction := fs.Bool("noaction", false, "noaction")
	fs.BoolVar(noAction, "n", false, "noaction")
	nonInteractive := fs.Bool("non-interactive", false, "never prompt")
	fs.Parse(args)

	steps, err := actx.Remove(ctx, aept.RemoveOptions{
		Names:          fs.Args(),
		Purge:          *purge,
		ForceDepends:   *forceDepends,
		NoAction:       *noAction,
		NonInteractive: *nonInteractive,
	})
	if err != nil {
		return err
	}
	printSteps(steps)
	return nil
}

func runMark(actx *aept.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: aept mark {auto|manual} <pkgs>")
	}
	mode := args[0]
	var auto bool
	switch mode {
	case "auto":
		auto = true
	case "manual":
		auto = false
	default:
		return fmt.Errorf("usage: aept mark {auto|manual} <pkgs>")
	}
	names := args[1:]
	for _, name := range names {
		if name == "--all" {
			names = nil
			for _, p := range actx.List("") {
				names = append(names, p.Name)
			}
			break
		}
	}
	for _, name := range names {
		if err := actx.Mark(name, auto); err != nil {
			return err
		}
	}
	return nil
}

func runPin(actx *aept.Context, args []string) error {
	for _, spec := range args {
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("pin: expected name=version, got %q", spec)
		}
		if err := actx.Pin(parts[0], parts[1]); err != nil {
			return err
		}
	}
	return nil
}

// runSource implements the "aept source add-github" convenience
// subcommand. It never touches status/info state — it only populates a
// local directory a `src` config line can then point at.
func runSource(ctx context.Context, args []string) error {
	if len(args) < 2 || args[0] != "add-github" {
		return fmt.Errorf("usage: aept source add-github <owner>/<repo> [--dest dir]")
	}
	slug := args[1]
	parts := strings.SplitN(slug, "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("source add-github: expected owner/repo, got %q", slug)
	}

	fs := flag.NewFlagSet("source add-github", flag.ExitOnError)
	dest := fs.String("dest", "", "destination mirror directory (default: ./<repo>)")
	token := fs.String("token", os.Getenv("GITHUB_TOKEN"), "GitHub API token (optional)")
	keyring := fs.String("keyring", "", "armored OpenPGP public keyring to verify .asc release signatures against")
	fs.Parse(args[2:])

	destDir := *dest
	if destDir == "" {
		destDir = parts[1]
	}

	results, err := github.Harvest(ctx, nil, parts[0], parts[1], *token, destDir, *keyring, func(format string, a ...any) {
		log.Printf(format, a...)
	})
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.SkipErr != nil {
			log.Printf("source add-github: %s: %v", r.Name, r.SkipErr)
			continue
		}
		fmt.Println(r.Path)
	}
	if err := github.BuildPackagesIndex(destDir); err != nil {
		return err
	}
	fmt.Printf("add to your config: src %s file://%s\n", parts[1], destDir)
	return nil
}

func printSteps(steps []aept.Step) {
	for _, s := range steps {
		fmt.Printf("%T %s\n", s, s.Name())
	}
}

func printYAMLOrText(args []string, pkgs []aept.PackageInfo) error {
	format := "text"
	for _, a := range args {
		if strings.HasPrefix(a, "--format=") {
			format = strings.TrimPrefix(a, "--format=")
		}
	}
	if format == "yaml" {
		out, err := yaml.Marshal(pkgs)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	}
	for _, p := range pkgs {
		fmt.Printf("%s\t%s\t%s\n", p.Name, p.Version, p.Architecture)
	}
	return nil
}

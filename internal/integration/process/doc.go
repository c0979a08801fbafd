// Package process launches language server processes.
//
// A Launcher starts servers from a Spec and tracks every process it has
// started so that Shutdown can reap them:
//
//	l := process.NewLauncher(process.Spec{Name: "gopls", Command: "gopls"})
//	defer l.Shutdown(2 * time.Second)
//
//	p, err := l.Start(ctx)
//	if err != nil {
//	    return err
//	}
//	client := lsp.NewClient(p, p, p)
//
// A Process is an io.ReadWriteCloser over the server's stdout and stdin.
// Closing it closes stdin, gives the server a grace period to exit on its
// own, then terminates it. The last bytes the server wrote to stderr are
// kept for crash reports.
package process

// Package runner is the entry point for executing an agent tree.
//
// A Runner binds a validated root agent to an application name and a
// session store. Run resolves (or creates) the session of a user and
// returns a lazily filled event stream:
//
//	r, err := runner.New("storyflow", root)
//	if err != nil {
//	    return err
//	}
//
//	_, events, errs, err := r.RunText(ctx, "user-1", "session-1", "a lonely robot")
//	if err != nil {
//	    return err
//	}
//
//	for ev := range events {
//	    fmt.Println(ev.Author, ev.Content.Text())
//	}
//
//	if err := <-errs; err != nil {
//	    return err
//	}
//
// Each event reaches the stream only after its state delta was committed to
// the session store. See package engine for the commit pipeline.
package runner

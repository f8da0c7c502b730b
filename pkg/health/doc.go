/*
Package health provides a generic poll-with-retries status tracker: a
Checker reports one Result (healthy/unhealthy plus a message), and Status
debounces a stream of Results into a single Healthy verdict after Config's
configured number of consecutive failures.

pkg/controller/thaw.go adapts this to restore polling: a repository's
Glacier restore progress is wrapped as a Checker (Check reports healthy
once objectstore.CheckRestoreStatus counts every object as restored: in
an instant-access class, or Glacier-class with a finished Restore header),
and waitForRestore feeds each Result to a Status while its own loop
applies the poll interval and attempt cap for the synchronous --sync thaw
path.
*/
package health

/*
Package errdefs defines the controller's error taxonomy.

Every error that crosses a subsystem boundary is classified with a stable Kind
so that HTTP handlers can map it to a response body and status code without
string matching, and so that retry policy can be decided from the class alone
(see IsTransient). Errors wrap their cause; use errors.As / KindOf to inspect.
*/
package errdefs

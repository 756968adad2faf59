/*
Package subscriptions implements committer.Notifier: it indexes every live
subscription's point and range reads so a commit only has to look up the
few subscriptions it could affect, invalidate them once, and drop their
entries — an invalidated subscription costs nothing on every later commit.
*/
package subscriptions

// Package brakepedal throttles named actions performed by identifiable subjects.
//
// Usage is counted in fixed windows held in a shared Counter Store (see the
// store package). A window starts at the first use of an action and ends when
// the store expires its counter; there is no sliding or bucket refill. A Limiter
// may also carry a lock duration: once its limit is breached the action is
// denied outright until the lock expires, independent of the counting window.
//
// Basic usage:
//
//	st := store.NewMemory()
//	defer st.Close()
//
//	perMinute, err := brakepedal.NewLimiter(5, time.Minute, brakepedal.LockFor(15*time.Minute))
//	if err != nil {
//		return err
//	}
//
//	ev := brakepedal.NewEvaluator(brakepedal.NewRepository(st))
//	d, err := ev.Check(ctx, brakepedal.NewKey(userID, "login"), perMinute)
//	if err != nil {
//		// store failure: choose fail-open or fail-closed here
//	}
//	if !d.Allowed {
//		// reject
//	}
//
// Store failures are never turned into a decision. Check returns them so the
// caller can apply its own fallback policy.
package brakepedal

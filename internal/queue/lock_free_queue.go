// Copyright (c) 2023 The Gnet Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import "sync/atomic"

// lockFreeQueue is the Michael & Scott non-blocking queue: producers link new nodes
// after the tail with CAS, the consumer swings the head over a dummy node.
type lockFreeQueue struct {
	head   atomic.Pointer[node]
	tail   atomic.Pointer[node]
	length atomic.Int32
}

type node struct {
	task *Task
	next atomic.Pointer[node]
}

// NewLockFreeQueue instantiates and returns a lock-free queue.
func NewLockFreeQueue() AsyncTaskQueue {
	q := new(lockFreeQueue)
	dummy := new(node)
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

// Enqueue puts the task at the tail of the queue.
func (q *lockFreeQueue) Enqueue(task *Task) {
	n := &node{task: task}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// The tail is lagging behind, help it forward.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)
			return
		}
	}
}

// Dequeue removes and returns the task at the head of the queue, nil if it's empty.
func (q *lockFreeQueue) Dequeue() *Task {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return nil
			}
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		task := next.task
		if q.head.CompareAndSwap(head, next) {
			next.task = nil
			q.length.Add(-1)
			return task
		}
	}
}

// IsEmpty indicates whether this queue is empty or not.
func (q *lockFreeQueue) IsEmpty() bool {
	return q.length.Load() == 0
}

// Length returns the number of queued tasks.
func (q *lockFreeQueue) Length() int32 {
	return q.length.Load()
}

package condition

type node interface{}

type literalNode struct {
	value interface{}
}

type identNode struct {
	name string
}

type memberNode struct {
	target node
	name   string
}

type indexNode struct {
	target node
	index  node
}

type listNode struct {
	items []node
}

type callNode struct {
	name string
	fn   builtin
	args []node
}

type unaryNode struct {
	op      string
	operand node
}

type binaryNode struct {
	op          string
	left, right node
}
